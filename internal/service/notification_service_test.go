package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/caresync-labs/caresync-realtime-api/internal/dto"
	"github.com/caresync-labs/caresync-realtime-api/internal/models"
	"github.com/caresync-labs/caresync-realtime-api/internal/repository"
)

func newNotificationTestService(t *testing.T) NotificationService {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Notification{}))

	validate := validator.New(validator.WithRequiredStructEnabled())
	return NewNotificationService(repository.NewNotificationRepository(db), nil, "", nil, validate, zerolog.Nop())
}

func receiveNotification(t *testing.T, ch <-chan dto.NotificationResponse) dto.NotificationResponse {
	t.Helper()
	select {
	case notification := <-ch:
		return notification
	case <-time.After(time.Second):
		t.Fatal("expected a pushed notification")
		return dto.NotificationResponse{}
	}
}

func TestNotificationServiceNotifyPersistsAndPushes(t *testing.T) {
	svc := newNotificationTestService(t)

	firstTab, cancelFirst := svc.Subscribe(10)
	defer cancelFirst()
	secondTab, cancelSecond := svc.Subscribe(10)
	defer cancelSecond()
	otherUser, cancelOther := svc.Subscribe(20)
	defer cancelOther()

	pushed, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		RecipientID: 10,
		Message:     "Your lab results are ready.",
		Metadata:    map[string]string{"lab_id": "88"},
	})
	require.NoError(t, err)
	require.NotZero(t, pushed.ID)

	// Every live subscription for the identity receives the push.
	for _, ch := range []<-chan dto.NotificationResponse{firstTab, secondTab} {
		notification := receiveNotification(t, ch)
		require.Equal(t, pushed.ID, notification.ID)
		require.Equal(t, "Your lab results are ready.", notification.Message)
		require.Equal(t, "88", notification.Metadata["lab_id"])
	}

	select {
	case notification := <-otherUser:
		t.Fatalf("notification %d leaked to another identity", notification.ID)
	default:
	}

	unread, err := svc.Unread(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, pushed.ID, unread[0].ID)
}

func TestNotificationServiceNotifyStripsMarkup(t *testing.T) {
	svc := newNotificationTestService(t)

	pushed, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		RecipientID: 10,
		Message:     "<b>Reminder:</b> take your medication",
	})
	require.NoError(t, err)
	require.Equal(t, "Reminder: take your medication", pushed.Message)
}

func TestNotificationServiceNotifyRejectsEmptyAfterSanitization(t *testing.T) {
	svc := newNotificationTestService(t)

	_, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		RecipientID: 10,
		Message:     `<img src="x">`,
	})
	require.Error(t, err)

	unread, unreadErr := svc.Unread(context.Background(), 10)
	require.NoError(t, unreadErr)
	require.Empty(t, unread, "rejected notifications must not be persisted")
}

func TestNotificationServiceNotifyValidatesRecipient(t *testing.T) {
	svc := newNotificationTestService(t)

	_, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{Message: "orphan"})
	require.Error(t, err)
}

func TestNotificationServiceUnreadUntilClearAll(t *testing.T) {
	svc := newNotificationTestService(t)

	for _, message := range []string{"first", "second", "third"} {
		_, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{RecipientID: 10, Message: message})
		require.NoError(t, err)
	}

	unread, err := svc.Unread(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unread, 3)
	require.Equal(t, "first", unread[0].Message)
	require.Equal(t, "third", unread[2].Message)

	cleared, err := svc.ClearAll(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(3), cleared)

	unread, err = svc.Unread(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, unread)

	// Notifications after the clear start a fresh unread set.
	_, err = svc.Notify(context.Background(), dto.NotificationCreateRequest{RecipientID: 10, Message: "fourth"})
	require.NoError(t, err)

	unread, err = svc.Unread(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, "fourth", unread[0].Message)
}

func TestNotificationServiceSubscribeCleanupClosesChannel(t *testing.T) {
	svc := newNotificationTestService(t)

	ch, cancel := svc.Subscribe(10)
	cancel()

	_, open := <-ch
	require.False(t, open, "cleanup must close the subscription channel")
}

func TestNotificationServiceRequiresRecipientForPullSurfaces(t *testing.T) {
	svc := newNotificationTestService(t)

	_, err := svc.Unread(context.Background(), 0)
	require.Error(t, err)

	_, err = svc.ClearAll(context.Background(), 0)
	require.Error(t, err)
}
