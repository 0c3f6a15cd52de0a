package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/caresync-labs/caresync-realtime-api/internal/dto"
)

type stubNotificationService struct {
	unread     []dto.NotificationResponse
	unreadErr  error
	cleared    int64
	clearedFor uint
	stream     chan dto.NotificationResponse
}

func (s *stubNotificationService) Notify(_ context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	return dto.NotificationResponse{RecipientID: payload.RecipientID, Message: payload.Message}, nil
}

func (s *stubNotificationService) Unread(_ context.Context, _ uint) ([]dto.NotificationResponse, error) {
	if s.unreadErr != nil {
		return nil, s.unreadErr
	}
	return s.unread, nil
}

func (s *stubNotificationService) ClearAll(_ context.Context, recipientID uint) (int64, error) {
	s.clearedFor = recipientID
	return s.cleared, nil
}

func (s *stubNotificationService) Subscribe(_ uint) (<-chan dto.NotificationResponse, func()) {
	return s.stream, func() {}
}

func (s *stubNotificationService) Start(_ context.Context) {}

func newNotificationTestApp(svc *stubNotificationService, auth fiber.Handler) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/notifications")
	if auth != nil {
		group.Use(auth)
	}
	handler := NewNotificationHandler(svc, zerolog.Nop(), 30*time.Second)
	handler.Register(group)
	return app
}

func TestNotificationUnreadReturnsList(t *testing.T) {
	svc := &stubNotificationService{
		unread: []dto.NotificationResponse{
			{ID: 1, RecipientID: 10, Message: "first"},
			{ID: 2, RecipientID: 10, Message: "second"},
		},
	}
	app := newNotificationTestApp(svc, injectUser(uint(10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/notifications/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp)
	require.True(t, envelope.Success)

	var notifications []dto.NotificationResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &notifications))
	require.Len(t, notifications, 2)
	require.Equal(t, "first", notifications[0].Message)
}

func TestNotificationUnreadRequiresAuthentication(t *testing.T) {
	app := newNotificationTestApp(&stubNotificationService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/notifications/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestNotificationUnreadMapsServiceError(t *testing.T) {
	app := newNotificationTestApp(&stubNotificationService{unreadErr: context.DeadlineExceeded}, injectUser(uint(10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/notifications/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestNotificationClearAllReportsCount(t *testing.T) {
	svc := &stubNotificationService{cleared: 3}
	app := newNotificationTestApp(svc, injectUser(uint(10)))

	req := httptest.NewRequest(http.MethodPost, "/api/v2/notifications/clear", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp)
	require.True(t, envelope.Success)

	var payload struct {
		Cleared int64 `json:"cleared"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	require.Equal(t, int64(3), payload.Cleared)
	require.Equal(t, uint(10), svc.clearedFor)
}

func TestNotificationStreamEmitsServerSentEvents(t *testing.T) {
	stream := make(chan dto.NotificationResponse, 1)
	stream <- dto.NotificationResponse{ID: 5, RecipientID: 10, Message: "ping"}
	close(stream)

	svc := &stubNotificationService{stream: stream}
	app := newNotificationTestApp(svc, injectUser(uint(10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/notifications/stream", nil)
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "event: notification")
	require.Contains(t, string(body), `"message":"ping"`)
}

func TestNotificationStreamRequiresAuthentication(t *testing.T) {
	app := newNotificationTestApp(&stubNotificationService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/notifications/stream", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
