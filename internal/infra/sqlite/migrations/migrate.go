package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	infrasqlite "github.com/kursadbilgin/sync-engine/internal/infra/sqlite"
	"github.com/kursadbilgin/sync-engine/internal/repository"
	"gorm.io/gorm"
)

// Migrate runs the versioned schema upgrades. Every step is idempotent
// (AutoMigrate and CREATE INDEX IF NOT EXISTS both check for existence), so
// re-running across versions never fails. An upgrade blocked by another open
// connection surfaces as ErrUpgradeBlocked; callers log a warning and retry
// on the next open instead of failing hard.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_request_queue",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.QueuedRequestModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_request_queue_enqueued_at ON request_queue (enqueued_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.QueuedRequestModel{})
			},
		},
		{
			ID: "000002_create_devices",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeviceModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_devices_last_active ON devices (last_active)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeviceModel{})
			},
		},
		{
			ID: "000003_create_scheduled_reminders",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ScheduledReminderModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_reminders_due_at ON scheduled_reminders (due_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ScheduledReminderModel{})
			},
		},
		{
			ID: "000004_create_actions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ActionRecordModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_actions_synced ON actions (synced)`,
					`CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON actions (timestamp)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ActionRecordModel{})
			},
		},
		{
			ID: "000005_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.NotificationEntryModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications (timestamp)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationEntryModel{})
			},
		},
		{
			ID: "000006_create_settings",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.SettingModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SettingModel{})
			},
		},
	})

	if err := m.Migrate(); err != nil {
		if infrasqlite.IsLocked(err) {
			return fmt.Errorf("%w: %v", domain.ErrUpgradeBlocked, err)
		}
		return err
	}
	return nil
}
