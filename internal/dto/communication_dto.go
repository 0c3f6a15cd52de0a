package dto

import (
	"encoding/json"
	"time"

	"github.com/caresync-labs/caresync-realtime-api/internal/models"
)

// Websocket event names carried in the envelope. The client-to-server set
// mirrors the portal frontend; the server-to-client set is the push surface.
const (
	EventJoin           = "join"
	EventLeave          = "leave"
	EventSendMessage    = "send_message"
	EventDeleteMessage  = "delete_message"
	EventReceiveMessage = "receive_message"
	EventMessageDeleted = "message_deleted"
	EventNotification   = "notification"
	EventError          = "error"
)

// ChatEnvelope frames every message on the websocket in both directions.
type ChatEnvelope struct {
	Event string          `json:"event" validate:"required,max=32"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewChatEnvelope frames an outbound event, marshalling the payload.
func NewChatEnvelope(event string, payload interface{}) (ChatEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ChatEnvelope{}, err
	}
	return ChatEnvelope{Event: event, Data: data}, nil
}

// ChatJoinRequest subscribes the connection to a room.
type ChatJoinRequest struct {
	Room string `json:"room" validate:"required,min=6,max=128"`
}

// ChatSendRequest appends a message to a room. The sender identity is taken
// from the authenticated connection, never from the payload.
type ChatSendRequest struct {
	Room       string `json:"room" validate:"required,min=6,max=128"`
	ReceiverID uint   `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required,min=1,max=4000"`
}

// ChatDeleteRequest tombstones a message previously sent by the caller.
type ChatDeleteRequest struct {
	ID   uint   `json:"id" validate:"required"`
	Room string `json:"room" validate:"required,min=6,max=128"`
}

// ChatDeletionEvent is broadcast to a room when a message is tombstoned.
type ChatDeletionEvent struct {
	ID   uint   `json:"id"`
	Room string `json:"room"`
}

// ChatErrorResponse is returned to the offending client only, never broadcast.
type ChatErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatHistoryQuery filters a history retrieval request.
type ChatHistoryQuery struct {
	Room string `query:"room" validate:"required,min=6,max=128"`
}

// ChatMessageResponse is the serialized form of a stored message. Deleted
// messages keep their identifier and position but carry no content.
type ChatMessageResponse struct {
	ID         uint      `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   uint      `json:"sender_id"`
	ReceiverID uint      `json:"receiver_id"`
	Content    string    `json:"content"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewChatMessageResponse converts a model into a DTO, blanking tombstoned content.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	response := ChatMessageResponse{
		ID:         message.ID,
		RoomID:     message.RoomID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		Deleted:    message.Deleted,
		CreatedAt:  message.CreatedAt,
	}
	if message.Deleted {
		response.Content = ""
	}
	return response
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID          uint              `json:"id"`
	RecipientID uint              `json:"recipient_id"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Cleared     bool              `json:"cleared"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewNotificationResponse converts a notification model to a DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	response := NotificationResponse{
		ID:          model.ID,
		RecipientID: model.RecipientID,
		Message:     model.Message,
		Cleared:     model.Cleared,
		CreatedAt:   model.CreatedAt,
	}
	if model.Metadata != nil {
		response.Metadata = make(map[string]string)
		for key, value := range model.Metadata {
			if str, ok := value.(string); ok {
				response.Metadata[key] = str
			}
		}
	}
	return response
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// NotificationCreateRequest describes the payload to push a notification.
type NotificationCreateRequest struct {
	RecipientID uint              `json:"recipient_id" validate:"required"`
	Message     string            `json:"message" validate:"required,min=1,max=2000"`
	Metadata    map[string]string `json:"metadata" validate:"omitempty,max=16"`
}

// AppointmentStatusEvent is the domain event emitted by the surrounding
// product when an appointment changes state.
type AppointmentStatusEvent struct {
	AppointmentID uint   `json:"appointment_id" validate:"required"`
	PatientID     uint   `json:"patient_id" validate:"required"`
	DoctorName    string `json:"doctor_name" validate:"required,max=200"`
	HospitalName  string `json:"hospital_name" validate:"required,max=200"`
	Date          string `json:"date" validate:"required,max=20"`
	Status        string `json:"status" validate:"required,oneof=Confirmed Rejected Completed Cancelled"`
}
