package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChatMessage is a single message exchanged inside a patient-doctor room.
// Content is immutable once stored; deletion only flips the tombstone flag
// so late deletion events stay meaningful to readers.
type ChatMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RoomID     string    `gorm:"size:128;index" json:"room_id"`
	SenderID   uint      `gorm:"index;not null" json:"sender_id"`
	ReceiverID uint      `gorm:"index;not null" json:"receiver_id"`
	Content    string    `gorm:"type:text" json:"content"`
	Deleted    bool      `gorm:"not null;default:false" json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Notification is a status message targeted at a single recipient identity.
// It stays in the unread set until the recipient clears all notifications;
// cleared is the only state transition.
type Notification struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	RecipientID uint              `gorm:"index;not null" json:"recipient_id"`
	Message     string            `gorm:"type:text" json:"message"`
	Metadata    datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	Cleared     bool              `gorm:"not null;default:false" json:"cleared"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
