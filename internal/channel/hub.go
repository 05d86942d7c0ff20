package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"github.com/kursadbilgin/sync-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultTokenTimeout = 3 * time.Second
	writeTimeout        = 5 * time.Second
)

// Handler processes one inbound page message. Errors are logged by the hub;
// they never tear down the connection or the read loop.
type Handler func(ctx context.Context, env Envelope) error

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(ctx context.Context, env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, c.conn, env)
}

// Hub is the message boundary between the worker and all connected pages.
// It carries typed request/reply (GET_AUTH_TOKEN) and broadcast traffic.
type Hub struct {
	logger  *zap.Logger
	metrics *observability.Metrics

	tokenTimeout time.Duration

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	pendingMu sync.Mutex
	pending   map[string]chan string
}

func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		logger:       logger,
		metrics:      metrics,
		tokenTimeout: defaultTokenTimeout,
		clients:      map[*client]struct{}{},
		handlers:     map[string]Handler{},
		pending:      map[string]chan string{},
	}
}

// HandleFunc registers the handler for one inbound message type.
func (h *Hub) HandleFunc(msgType string, handler Handler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[msgType] = handler
}

// Handler returns the HTTP handler exposing the /ws endpoint pages connect to.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Pages connect from the local app origin only.
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &client{conn: conn}
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Info("page connected", zap.Int("pages", total))

	if env, err := NewEnvelope(MsgActivated, nil); err == nil {
		if err := c.write(r.Context(), env); err != nil {
			h.logger.Debug("activation greeting failed", zap.Error(err))
		}
	}

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, c)
		remaining := len(h.clients)
		h.clientsMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Info("page disconnected", zap.Int("pages", remaining))
	}()

	h.readLoop(r.Context(), c)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		env, err := DecodeInbound(raw)
		if err != nil {
			// Malformed or unknown messages are dropped; the loop must
			// stay ready for the next message.
			h.logger.Warn("dropping inbound message", zap.Error(err))
			continue
		}

		h.metrics.IncChannelMessage("inbound", env.Type)
		h.dispatch(ctx, env)
	}
}

func (h *Hub) dispatch(ctx context.Context, env Envelope) {
	if env.Type == MsgAuthTokenReply {
		var reply AuthTokenReplyPayload
		if err := DecodePayload(env, &reply); err != nil {
			h.logger.Warn("malformed auth token reply", zap.Error(err))
			return
		}
		h.resolveReply(env.RequestID, reply.Token)
		return
	}

	h.handlersMu.RLock()
	handler, ok := h.handlers[env.Type]
	h.handlersMu.RUnlock()

	if !ok {
		h.logger.Debug("no handler for message", zap.String("type", env.Type))
		return
	}

	if err := handler(ctx, env); err != nil {
		h.logger.Error("message handler failed",
			zap.String("type", env.Type),
			zap.Error(err),
		)
	}
}

// Broadcast delivers an envelope to every connected page. Write failures are
// per-client and logged; one slow page never blocks the rest.
func (h *Hub) Broadcast(ctx context.Context, env Envelope) {
	h.clientsMu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clientsMu.RUnlock()

	h.metrics.IncChannelMessage("outbound", env.Type)

	for _, c := range targets {
		if err := c.write(ctx, env); err != nil {
			h.logger.Debug("broadcast write failed",
				zap.String("type", env.Type),
				zap.Error(err),
			)
		}
	}
}

// SendToAny delivers an envelope to one connected page, used to focus a page
// on an item. Returns ErrNotFound when no page is connected.
func (h *Hub) SendToAny(ctx context.Context, env Envelope) error {
	h.clientsMu.RLock()
	var target *client
	for c := range h.clients {
		target = c
		break
	}
	h.clientsMu.RUnlock()

	if target == nil {
		return fmt.Errorf("%w: no connected page", domain.ErrNotFound)
	}

	h.metrics.IncChannelMessage("outbound", env.Type)
	return target.write(ctx, env)
}

// HasPages reports whether at least one page is connected.
func (h *Hub) HasPages() bool {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients) > 0
}

// RequestToken asks connected pages for an auth token. The first page to
// answer is authoritative; slower replies for the same request are dropped.
// Returns ErrAuthUnavailable when no page is connected or none answers
// within the bound.
func (h *Hub) RequestToken(ctx context.Context) (string, error) {
	if !h.HasPages() {
		return "", domain.ErrAuthUnavailable
	}

	requestID := uuid.NewString()
	replyCh := make(chan string, 1)

	h.pendingMu.Lock()
	h.pending[requestID] = replyCh
	h.pendingMu.Unlock()

	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, requestID)
		h.pendingMu.Unlock()
	}()

	env, err := NewEnvelope(MsgGetAuthToken, nil)
	if err != nil {
		return "", err
	}
	env.RequestID = requestID
	h.Broadcast(ctx, env)

	timer := time.NewTimer(h.tokenTimeout)
	defer timer.Stop()

	select {
	case token := <-replyCh:
		if token == "" {
			return "", domain.ErrAuthUnavailable
		}
		return token, nil
	case <-timer.C:
		return "", domain.ErrAuthUnavailable
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolveReply hands a token reply to the waiting request. The buffered
// single-shot channel makes the first reply win; later ones fall through.
func (h *Hub) resolveReply(requestID string, token string) {
	h.pendingMu.Lock()
	replyCh, ok := h.pending[requestID]
	h.pendingMu.Unlock()

	if !ok {
		return
	}

	select {
	case replyCh <- token:
	default:
	}
}

// Close disconnects all pages.
func (h *Hub) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "worker shutting down")
		delete(h.clients, c)
	}
}
