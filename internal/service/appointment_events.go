package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/caresync-labs/caresync-realtime-api/internal/dto"
)

// notificationPublisher is the slice of the dispatcher the event intake needs.
type notificationPublisher interface {
	Notify(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
}

// AppointmentEventService turns appointment status changes from the rest of
// the product into notifications for the affected patient. Events arrive on
// a NATS subject or via the internal HTTP intake; both paths converge here.
type AppointmentEventService interface {
	HandleStatusEvent(ctx context.Context, event dto.AppointmentStatusEvent) (dto.NotificationResponse, error)
	Start(ctx context.Context)
}

type appointmentEventService struct {
	notifications notificationPublisher
	nats          *nats.Conn
	natsSubject   string
	validator     *validator.Validate
	logger        zerolog.Logger
}

// NewAppointmentEventService constructs the domain event intake.
func NewAppointmentEventService(notifications notificationPublisher, natsConn *nats.Conn, channelBase string, validate *validator.Validate, logger zerolog.Logger) AppointmentEventService {
	subject := ""
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".appointments.status"
	}

	return &appointmentEventService{
		notifications: notifications,
		nats:          natsConn,
		natsSubject:   subject,
		validator:     validate,
		logger:        logger.With().Str("component", "appointment_events").Logger(),
	}
}

func (s *appointmentEventService) Start(ctx context.Context) {
	if s.nats == nil || s.natsSubject == "" {
		return
	}

	sub, err := s.nats.QueueSubscribe(s.natsSubject, "caresync-appointments", func(msg *nats.Msg) {
		var event dto.AppointmentStatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Warn().Err(err).Msg("invalid appointment status event")
			return
		}

		if _, err := s.HandleStatusEvent(ctx, event); err != nil {
			s.logger.Error().Err(err).Uint("appointment_id", event.AppointmentID).Msg("failed to handle appointment status event")
		}
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to appointment status subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain appointment nats subscription")
		}
	}()
}

func (s *appointmentEventService) HandleStatusEvent(ctx context.Context, event dto.AppointmentStatusEvent) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(event); err != nil {
		return dto.NotificationResponse{}, err
	}

	message := fmt.Sprintf("Your appointment with Dr. %s at %s on %s is %s.",
		event.DoctorName, event.HospitalName, event.Date, strings.ToLower(event.Status))

	return s.notifications.Notify(ctx, dto.NotificationCreateRequest{
		RecipientID: event.PatientID,
		Message:     message,
		Metadata: map[string]string{
			"appointment_id": strconv.FormatUint(uint64(event.AppointmentID), 10),
			"status":         event.Status,
		},
	})
}
