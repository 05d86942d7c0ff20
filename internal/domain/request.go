package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mutating methods that are eligible for offline queueing.
var queueableMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// IsQueueableMethod reports whether a method is a mutating API call that may
// be captured into the offline queue on network failure.
func IsQueueableMethod(method string) bool {
	_, ok := queueableMethods[strings.ToUpper(strings.TrimSpace(method))]
	return ok
}

// Header is one request header. Order is preserved across capture and replay.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueuedRequest is a snapshot of a failed mutating HTTP request awaiting
// replay. It exists only between the failed write and a confirmed successful
// replay; rows are never dropped without a 2xx response.
type QueuedRequest struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Headers    []Header  `json:"headers"`
	Body       []byte    `json:"body,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempts   int       `json:"attempts"`
}

func (r *QueuedRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: request id is required", ErrValidation)
	}
	if !IsQueueableMethod(r.Method) {
		return fmt.Errorf("%w: method %q is not queueable", ErrValidation, r.Method)
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	if _, err := url.ParseRequestURI(r.URL); err != nil {
		return fmt.Errorf("%w: invalid url %q", ErrValidation, r.URL)
	}
	return nil
}

// Host returns the request's target host, or an empty string when the URL is
// unparseable. Used to key replay pacing.
func (r *QueuedRequest) Host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// FlushReport summarizes one pass of replaying the offline queue.
type FlushReport struct {
	Attempted int `json:"attempted"`
	Replayed  int `json:"replayed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}
