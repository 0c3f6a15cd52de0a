package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caresync-labs/caresync-realtime-api/internal/chatroom"
	"github.com/caresync-labs/caresync-realtime-api/internal/dto"
	"github.com/caresync-labs/caresync-realtime-api/internal/observability"
	"github.com/caresync-labs/caresync-realtime-api/internal/repository"
)

const chatSendBufferSize = 32

// ErrInvalidRoom indicates a room key that is malformed or does not encode
// the parties named by the request.
var ErrInvalidRoom = errors.New("invalid room key")

// ErrRoomForbidden indicates an identity that is not a participant of the
// room it is trying to use.
var ErrRoomForbidden = errors.New("identity is not a participant of the room")

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        uint
	CorrelationID string
	Context       context.Context
}

// ChatService manages websocket chat connections, message delivery and
// deletion propagation.
type ChatService interface {
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	History(ctx context.Context, requesterID uint, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	Start(ctx context.Context)
}

// notificationSource is the slice of the notification dispatcher the chat
// transport needs: a per-identity push subscription.
type notificationSource interface {
	Subscribe(recipientID uint) (<-chan dto.NotificationResponse, func())
}

type chatService struct {
	repo          repository.ChatRepository
	notifications notificationSource
	redis         *redis.Client
	redisStream   string
	nats          *nats.Conn
	natsSubject   string
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	sanitizer     *bluemonday.Policy
	hub           *chatHub
	roomLocks     sync.Map
	nodeID        string
}

// chatHub is the room registry and connection session table. Both indices
// mutate under one mutex so fan-out always observes a consistent snapshot.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

type chatClient struct {
	conn    *websocket.Conn
	send    chan dto.ChatEnvelope
	options ChatConnectionOptions
	service *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context

	// joined room keys, guarded by the hub mutex
	rooms map[string]struct{}
}

// chatRelayEvent crosses nodes via redis pub/sub and NATS so subscribers on
// other instances see messages and deletions for their rooms.
type chatRelayEvent struct {
	Source   string                   `json:"source"`
	Kind     string                   `json:"kind"`
	Message  *dto.ChatMessageResponse `json:"message,omitempty"`
	Deletion *dto.ChatDeletionEvent   `json:"deletion,omitempty"`
	SentAt   time.Time                `json:"sent_at"`
}

const (
	relayKindMessage  = "message"
	relayKindDeletion = "deletion"
)

// NewChatService creates a websocket chat service instance.
func NewChatService(repo repository.ChatRepository, notifications notificationSource, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	hub := &chatHub{
		rooms: make(map[string]map[*chatClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}

	streamChannel := ""
	natsSubject := ""
	if channelBase != "" {
		streamChannel = channelBase + ":chat"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &chatService{
		repo:          repo,
		notifications: notifications,
		redis:         redisClient,
		redisStream:   streamChannel,
		nats:          natsConn,
		natsSubject:   natsSubject,
		validator:     validate,
		logger:        logger.With().Str("component", "chat_service").Logger(),
		tracer:        otel.Tracer("github.com/caresync-labs/caresync-realtime-api/internal/service/chat"),
		sanitizer:     sanitizer,
		hub:           hub,
		nodeID:        uuid.NewString(),
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &chatClient{
		conn:    conn,
		send:    make(chan dto.ChatEnvelope, chatSendBufferSize),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
		rooms:   make(map[string]struct{}),
	}

	observability.ChatConnectionsActive().Inc()
	defer observability.ChatConnectionsActive().Dec()

	var notifStream <-chan dto.NotificationResponse
	if s.notifications != nil {
		stream, cleanup := s.notifications.Subscribe(opts.UserID)
		notifStream = stream
		defer cleanup()
	}

	go client.writer(notifStream)
	client.reader()
}

func (s *chatService) History(ctx context.Context, requesterID uint, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	if _, _, err := chatroom.Parse(query.Room); err != nil {
		return nil, ErrInvalidRoom
	}
	if !chatroom.HasMember(query.Room, requesterID) {
		return nil, ErrRoomForbidden
	}

	messages, err := s.repo.History(ctx, query.Room)
	if err != nil {
		return nil, err
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *chatService) processJoin(client *chatClient, payload dto.ChatJoinRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	if _, _, err := chatroom.Parse(payload.Room); err != nil {
		return ErrInvalidRoom
	}
	if !chatroom.HasMember(payload.Room, client.options.UserID) {
		return ErrRoomForbidden
	}

	// Joining subscribes to future events only. Anything the client missed
	// is recovered through the history endpoint, never pushed.
	s.hub.join(client, payload.Room)
	return nil
}

func (s *chatService) processLeave(client *chatClient, payload dto.ChatJoinRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	s.hub.leave(client, payload.Room)
	return nil
}

func (s *chatService) processSend(ctx context.Context, client *chatClient, payload dto.ChatSendRequest) error {
	payload.Room = strings.TrimSpace(payload.Room)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	senderID := client.options.UserID
	if _, _, err := chatroom.Parse(payload.Room); err != nil {
		return ErrInvalidRoom
	}
	if !chatroom.HasMember(payload.Room, senderID) {
		return ErrRoomForbidden
	}
	if payload.Room != chatroom.Derive(senderID, payload.ReceiverID) {
		return ErrInvalidRoom
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if clean == "" {
		return repository.ErrEmptyContent
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.room", payload.Room),
		attribute.Int64("chat.sender_id", int64(senderID)),
	))
	defer span.End()

	// Per-room serialization: the store commit and the local fan-out
	// enqueue happen under the room lock so every subscriber sees events
	// in submit order. Network writes stay outside the lock, in each
	// client's writer goroutine.
	lock := s.roomLock(payload.Room)
	lock.Lock()
	message, err := s.repo.Append(spanCtx, payload.Room, senderID, payload.ReceiverID, clean)
	if err != nil {
		lock.Unlock()
		span.RecordError(err)
		return err
	}

	response := dto.NewChatMessageResponse(message)
	s.broadcastMessage(response)
	lock.Unlock()

	if err := s.publishRelay(spanCtx, chatRelayEvent{Kind: relayKindMessage, Message: &response}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat event")
	}

	observability.ChatMessagesSent().Inc()
	return nil
}

func (s *chatService) processDelete(ctx context.Context, client *chatClient, payload dto.ChatDeleteRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	if _, _, err := chatroom.Parse(payload.Room); err != nil {
		return ErrInvalidRoom
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.delete", trace.WithAttributes(
		attribute.Int64("chat.message_id", int64(payload.ID)),
	))
	defer span.End()

	// The store rejects deletes whose claimed room differs from the stored
	// one, so the lock, the commit and the fan-out all bind to the same room.
	lock := s.roomLock(payload.Room)
	lock.Lock()
	message, err := s.repo.SoftDelete(spanCtx, payload.ID, client.options.UserID, payload.Room)
	if err != nil {
		lock.Unlock()
		span.RecordError(err)
		return err
	}

	deletion := dto.ChatDeletionEvent{ID: message.ID, Room: message.RoomID}
	s.broadcastDeletion(deletion)
	lock.Unlock()

	if err := s.publishRelay(spanCtx, chatRelayEvent{Kind: relayKindDeletion, Deletion: &deletion}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat deletion event")
	}

	observability.ChatMessagesDeleted().Inc()
	return nil
}

func (s *chatService) roomLock(room string) *sync.Mutex {
	lock, _ := s.roomLocks.LoadOrStore(room, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *chatService) broadcastMessage(message dto.ChatMessageResponse) {
	envelope, err := dto.NewChatEnvelope(dto.EventReceiveMessage, message)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to frame chat message")
		return
	}
	s.hub.broadcast(message.RoomID, envelope)
}

func (s *chatService) broadcastDeletion(deletion dto.ChatDeletionEvent) {
	envelope, err := dto.NewChatEnvelope(dto.EventMessageDeleted, deletion)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to frame chat deletion")
		return
	}
	s.hub.broadcast(deletion.Room, envelope)
}

func (s *chatService) publishRelay(ctx context.Context, event chatRelayEvent) error {
	event.Source = s.nodeID
	event.SentAt = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleRelayEvent([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "caresync-chat", func(msg *nats.Msg) {
		s.handleRelayEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (s *chatService) handleRelayEvent(data []byte) {
	var event chatRelayEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat relay event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	switch event.Kind {
	case relayKindMessage:
		if event.Message != nil {
			s.broadcastMessage(*event.Message)
		}
	case relayKindDeletion:
		if event.Deletion != nil {
			s.broadcastDeletion(*event.Deletion)
		}
	default:
		s.logger.Warn().Str("kind", event.Kind).Msg("unknown chat relay event kind")
	}
}

func (h *chatHub) join(client *chatClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, joined := client.rooms[room]; joined {
		return
	}

	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[*chatClient]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}
	h.log.Debug().Str("room", room).Uint("user_id", client.options.UserID).Msg("chat client joined room")
}

func (h *chatHub) leave(client *chatClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, room)
}

func (h *chatHub) leaveLocked(client *chatClient, room string) {
	delete(client.rooms, room)
	if clients, ok := h.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
}

// removeClient prunes every membership entry for the connection in one
// critical section so no room retains a dangling reference.
func (h *chatHub) removeClient(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range client.rooms {
		h.leaveLocked(client, room)
	}
	h.log.Debug().Uint("user_id", client.options.UserID).Msg("chat client disconnected")
}

func (h *chatHub) broadcast(room string, envelope dto.ChatEnvelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.rooms[room]
	for client := range clients {
		select {
		case client.send <- envelope:
		default:
			// A full queue means the connection is stalled; tear it down
			// instead of silently dropping its future events.
			h.log.Warn().Str("room", room).Uint("user_id", client.options.UserID).Msg("closing stalled chat client")
			go client.close()
		}
	}
}

func (c *chatClient) reader() {
	defer c.close()

	for {
		var envelope dto.ChatEnvelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			c.service.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		if err := c.dispatch(envelope); err != nil {
			c.sendError(err)
		}
	}
}

func (c *chatClient) dispatch(envelope dto.ChatEnvelope) error {
	switch envelope.Event {
	case dto.EventJoin:
		var payload dto.ChatJoinRequest
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("invalid join payload: %w", err)
		}
		return c.service.processJoin(c, payload)
	case dto.EventLeave:
		var payload dto.ChatJoinRequest
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("invalid leave payload: %w", err)
		}
		return c.service.processLeave(c, payload)
	case dto.EventSendMessage:
		var payload dto.ChatSendRequest
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("invalid send payload: %w", err)
		}
		return c.service.processSend(c.baseCtx, c, payload)
	case dto.EventDeleteMessage:
		var payload dto.ChatDeleteRequest
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("invalid delete payload: %w", err)
		}
		return c.service.processDelete(c.baseCtx, c, payload)
	default:
		return fmt.Errorf("unknown event %q", envelope.Event)
	}
}

// sendError surfaces a rejection to the originating client only.
func (c *chatClient) sendError(err error) {
	response := dto.ChatErrorResponse{Code: chatErrorCode(err), Message: err.Error()}
	envelope, marshalErr := dto.NewChatEnvelope(dto.EventError, response)
	if marshalErr != nil {
		return
	}

	select {
	case c.send <- envelope:
	case <-c.closed:
	default:
	}
}

func chatErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRoom):
		return "invalid_room"
	case errors.Is(err, ErrRoomForbidden), errors.Is(err, repository.ErrNotMessageSender):
		return "forbidden"
	case errors.Is(err, repository.ErrMessageNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrEmptyContent):
		return "empty_content"
	default:
		return "invalid_payload"
	}
}

func (c *chatClient) writer(notifications <-chan dto.NotificationResponse) {
	defer c.close()

	for {
		select {
		case envelope, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case notification, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			envelope, err := dto.NewChatEnvelope(dto.EventNotification, notification)
			if err != nil {
				continue
			}
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.removeClient(c)
		_ = c.conn.Close()
	})
}
