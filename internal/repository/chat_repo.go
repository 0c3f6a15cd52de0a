package repository

import (
	"context"
	"errors"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/caresync-labs/caresync-realtime-api/internal/models"
)

// ErrEmptyContent indicates a message body that is blank after trimming.
var ErrEmptyContent = errors.New("message content is empty")

// ErrMessageNotFound indicates a delete targeting a nonexistent message.
var ErrMessageNotFound = errors.New("message not found")

// ErrNotMessageSender indicates a delete attempted by someone other than
// the original sender.
var ErrNotMessageSender = errors.New("only the sender may delete a message")

// ChatRepository is the append-only store for chat messages. Writes to the
// same room are serialized by the caller; writes to different rooms run in
// parallel.
type ChatRepository interface {
	Append(ctx context.Context, roomID string, senderID, receiverID uint, content string) (models.ChatMessage, error)
	History(ctx context.Context, roomID string) ([]models.ChatMessage, error)
	SoftDelete(ctx context.Context, id, requesterID uint, roomID string) (models.ChatMessage, error)
}

type chatRepository struct {
	db *gorm.DB

	// serializes tombstone read-modify-write per message id
	deleteMu sync.Mutex
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Append(ctx context.Context, roomID string, senderID, receiverID uint, content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, ErrEmptyContent
	}

	message := models.ChatMessage{
		RoomID:     roomID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}

	if err := r.db.WithContext(ctx).Create(&message).Error; err != nil {
		return models.ChatMessage{}, err
	}

	return message, nil
}

func (r *chatRepository) History(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	// Tombstoned rows are returned so clients can render deletion
	// placeholders; identifier breaks timestamp ties for a total order.
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *chatRepository) SoftDelete(ctx context.Context, id, requesterID uint, roomID string) (models.ChatMessage, error) {
	r.deleteMu.Lock()
	defer r.deleteMu.Unlock()

	var message models.ChatMessage
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ChatMessage{}, ErrMessageNotFound
		}
		return models.ChatMessage{}, err
	}

	// The room the caller claims must be the room the message lives in;
	// anything else is treated as not found so existence does not leak
	// across rooms.
	if message.RoomID != roomID {
		return models.ChatMessage{}, ErrMessageNotFound
	}

	if message.SenderID != requesterID {
		return models.ChatMessage{}, ErrNotMessageSender
	}

	if message.Deleted {
		return message, nil
	}

	message.Deleted = true
	if err := r.db.WithContext(ctx).Save(&message).Error; err != nil {
		return models.ChatMessage{}, err
	}

	return message, nil
}
