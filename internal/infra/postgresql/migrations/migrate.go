package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"notification-engine/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notification_targets",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.TargetModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.TargetModel{})
			},
		},
		{
			ID: "000002_create_target_user_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.TargetUserRecordModel{}); err != nil {
					return err
				}
				indexes := []string{
					// A user cannot register the same address twice under a channel.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_target_user_records_identity ON target_user_records (user_id, target_id, target_user_id)`,
					`CREATE INDEX IF NOT EXISTS idx_target_user_records_active ON target_user_records (user_id, target_id) WHERE active`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.TargetUserRecordModel{})
			},
		},
		{
			ID: "000003_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
					return err
				}
				indexes := []string{
					// Idempotency key for the notification creators.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_idempotency ON notifications (target_user_record_id, scheduled_delivery, title, extra)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications (scheduled_delivery) WHERE status IN ('SCHEDULED', 'RETRY')`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000004_create_opt_outs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.OptOutModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OptOutModel{})
			},
		},
		{
			ID: "000005_create_delivery_attempts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.DeliveryAttemptModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{})
			},
		},
	})

	return m.Migrate()
}
