package relay

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormOutbox struct {
	db *gorm.DB
}

func NewGormOutbox(db *gorm.DB) *GormOutbox {
	return &GormOutbox{db: db}
}

// OpenPostgres connects to dsn and migrates the outbox table.
func OpenPostgres(dsn string, log *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&Notification{}); err != nil {
		return nil, fmt.Errorf("failed to migrate outbox: %w", err)
	}
	log.Info("outbox_database_ready")
	return db, nil
}

func (o *GormOutbox) Create(ctx context.Context, n *Notification) error {
	return o.db.WithContext(ctx).Create(n).Error
}

func (o *GormOutbox) List(ctx context.Context, userID int64, q ListQuery) ([]Notification, int64, error) {
	query := o.db.WithContext(ctx).Model(&Notification{}).Where("user_id = ?", userID)
	if q.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	query = query.Session(&gorm.Session{}) // reused for count and page

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var notifications []Notification
	err := query.
		Order("created_at DESC, id DESC").
		Offset(q.offset()).
		Limit(q.Limit).
		Find(&notifications).Error
	return notifications, total, err
}

func (o *GormOutbox) MarkRead(ctx context.Context, userID, id int64) error {
	result := o.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
