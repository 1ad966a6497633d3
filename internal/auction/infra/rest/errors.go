package rest

import (
	"errors"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// statusByKind maps the error taxonomy to HTTP status codes.
var statusByKind = map[domain.ErrorKind]int{
	domain.KindNotFound:              fiber.StatusNotFound,
	domain.KindInvalidInput:          fiber.StatusBadRequest,
	domain.KindInvalidState:          fiber.StatusConflict,
	domain.KindWindowNotActive:       fiber.StatusConflict,
	domain.KindCapacityExceeded:      fiber.StatusConflict,
	domain.KindDuplicateRegistration: fiber.StatusConflict,
	domain.KindItemUnavailable:       fiber.StatusConflict,
	domain.KindBidTooLow:             fiber.StatusUnprocessableEntity,
	domain.KindReserveNotMet:         fiber.StatusUnprocessableEntity,
	domain.KindBuyNowMismatch:        fiber.StatusUnprocessableEntity,
	domain.KindNotWhitelisted:        fiber.StatusForbidden,
	domain.KindSelfOutbid:            fiber.StatusUnprocessableEntity,
	domain.KindInsufficientFunds:     fiber.StatusPaymentRequired,
	domain.KindLedgerFailure:         fiber.StatusBadGateway,
	domain.KindRateLimited:           fiber.StatusTooManyRequests,
	domain.KindConflict:              fiber.StatusConflict,
	domain.KindTransient:             fiber.StatusServiceUnavailable,
	domain.KindInternal:              fiber.StatusInternalServerError,
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ErrorHandler is the fiber error handler: typed errors keep their kind,
// fiber errors keep their code, anything else is a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorResponse{Error: fe.Message, Kind: kindForStatus(fe.Code).String()})
	}

	kind := domain.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	reason := domain.Reason(err)
	if status >= fiber.StatusInternalServerError {
		log.Error("HTTP request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		if kind == domain.KindInternal {
			reason = "internal error"
		}
	}
	return c.Status(status).JSON(errorResponse{Error: reason, Kind: kind.String()})
}

func kindForStatus(status int) domain.ErrorKind {
	switch status {
	case fiber.StatusNotFound:
		return domain.KindNotFound
	case fiber.StatusTooManyRequests:
		return domain.KindRateLimited
	case fiber.StatusConflict:
		return domain.KindInvalidState
	}
	if status >= fiber.StatusInternalServerError {
		return domain.KindInternal
	}
	return domain.KindInvalidInput
}
