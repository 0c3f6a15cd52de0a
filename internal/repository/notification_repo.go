package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/caresync-labs/caresync-realtime-api/internal/models"
)

// NotificationRepository handles persistence for notification entities.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListUnread(ctx context.Context, recipientID uint) ([]models.Notification, error)
	ClearAll(ctx context.Context, recipientID uint) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListUnread(ctx context.Context, recipientID uint) ([]models.Notification, error) {
	var notifications []models.Notification
	// Creation order ascending matches the order the push path emits, so
	// the pull and push surfaces reconstruct the same timeline.
	if err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND cleared = ?", recipientID, false).
		Order("created_at ASC").
		Order("id ASC").
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) ClearAll(ctx context.Context, recipientID uint) (int64, error) {
	// Each row's cleared flag is set independently by the statement;
	// notifications inserted after it begins are untouched, so a
	// concurrent notify is never swallowed by an in-flight clear.
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND cleared = ?", recipientID, false).
		Update("cleared", true)

	return result.RowsAffected, result.Error
}
