package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/caresync-labs/caresync-realtime-api/internal/dto"
	"github.com/caresync-labs/caresync-realtime-api/internal/middleware"
	"github.com/caresync-labs/caresync-realtime-api/internal/service"
	"github.com/caresync-labs/caresync-realtime-api/internal/utils"
)

// EventHandler is the HTTP intake for domain events emitted by the
// surrounding product, mirroring the NATS subject for deployments that
// prefer request/response delivery.
type EventHandler struct {
	appointments service.AppointmentEventService
	logger       zerolog.Logger
}

// NewEventHandler constructs the event intake handler.
func NewEventHandler(appointments service.AppointmentEventService, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		appointments: appointments,
		logger:       logger.With().Str("component", "event_handler").Logger(),
	}
}

// Register binds the event intake routes.
func (h *EventHandler) Register(router fiber.Router) {
	router.Post("/appointment-status", h.appointmentStatus)
}

func (h *EventHandler) appointmentStatus(c *fiber.Ctx) error {
	var event dto.AppointmentStatusEvent
	if err := c.BodyParser(&event); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid event payload")
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))

	notification, err := h.appointments.HandleStatusEvent(ctx, event)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to handle appointment status event")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to handle event")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "event accepted", notification)
}
