package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/caresync-labs/caresync-realtime-api/internal/dto"
	"github.com/caresync-labs/caresync-realtime-api/internal/service"
)

type stubChatService struct {
	historyErr      error
	historyMessages []dto.ChatMessageResponse
	lastRequester   uint
	lastQuery       dto.ChatHistoryQuery
}

func (s *stubChatService) ServeConnection(_ *websocket.Conn, _ service.ChatConnectionOptions) {}

func (s *stubChatService) Start(_ context.Context) {}

func (s *stubChatService) History(_ context.Context, requesterID uint, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	s.lastRequester = requesterID
	s.lastQuery = query
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.historyMessages, nil
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func injectUser(id interface{}) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", id)
		return c.Next()
	}
}

func newChatTestApp(svc service.ChatService, auth fiber.Handler) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/chat")
	if auth != nil {
		group.Use(auth)
	}
	handler := NewChatHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	handler.Register(group)
	return app
}

func decodeEnvelope(t *testing.T, resp *http.Response) apiEnvelope {
	t.Helper()
	defer resp.Body.Close()

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func TestChatHistoryReturnsMessages(t *testing.T) {
	svc := &stubChatService{
		historyMessages: []dto.ChatMessageResponse{
			{ID: 1, RoomID: "chat_10_20", SenderID: 10, ReceiverID: 20, Content: "hello"},
			{ID: 2, RoomID: "chat_10_20", SenderID: 20, ReceiverID: 10, Deleted: true},
		},
	}
	app := newChatTestApp(svc, injectUser(uint(10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/chat/history?room=chat_10_20", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp)
	require.True(t, envelope.Success)

	var messages []dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &messages))
	require.Len(t, messages, 2)
	require.Equal(t, "hello", messages[0].Content)
	require.True(t, messages[1].Deleted)

	require.Equal(t, uint(10), svc.lastRequester)
	require.Equal(t, "chat_10_20", svc.lastQuery.Room)
}

func TestChatHistoryAcceptsFloatUserClaim(t *testing.T) {
	// JWT claims decode numeric values as float64.
	svc := &stubChatService{}
	app := newChatTestApp(svc, injectUser(float64(10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/chat/history?room=chat_10_20", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(10), svc.lastRequester)
}

func TestChatHistoryRequiresAuthentication(t *testing.T) {
	app := newChatTestApp(&stubChatService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/chat/history?room=chat_10_20", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestChatHistoryRequiresRoom(t *testing.T) {
	app := newChatTestApp(&stubChatService{}, injectUser(uint(10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/chat/history", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestChatHistoryMapsServiceErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"invalid room": {service.ErrInvalidRoom, fiber.StatusBadRequest},
		"forbidden":    {service.ErrRoomForbidden, fiber.StatusForbidden},
		"internal":     {context.DeadlineExceeded, fiber.StatusInternalServerError},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := newChatTestApp(&stubChatService{historyErr: tc.err}, injectUser(uint(10)))

			req := httptest.NewRequest(http.MethodGet, "/api/v2/chat/history?room=chat_10_20", nil)
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			envelope := decodeEnvelope(t, resp)
			require.False(t, envelope.Success)
		})
	}
}

func TestChatWebsocketRouteRequiresUpgrade(t *testing.T) {
	app := newChatTestApp(&stubChatService{}, injectUser(uint(10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/chat/ws", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
