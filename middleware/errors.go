// middleware/errors.go
package middleware

import (
	"errors"

	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindInvalidInput: fiber.StatusBadRequest,
	services.KindUnauthorized: fiber.StatusUnauthorized,
	services.KindForbidden:    fiber.StatusForbidden,
	services.KindNotFound:     fiber.StatusNotFound,
	services.KindConflict:     fiber.StatusConflict,
	services.KindInvalidState: fiber.StatusConflict,
	services.KindRateLimited:  fiber.StatusTooManyRequests,
	services.KindInternal:     fiber.StatusInternalServerError,
}

var statusKind = map[int]services.ErrorKind{
	fiber.StatusBadRequest:            services.KindInvalidInput,
	fiber.StatusUnauthorized:          services.KindUnauthorized,
	fiber.StatusForbidden:             services.KindForbidden,
	fiber.StatusNotFound:              services.KindNotFound,
	fiber.StatusMethodNotAllowed:      services.KindNotFound,
	fiber.StatusConflict:              services.KindConflict,
	fiber.StatusRequestEntityTooLarge: services.KindInvalidInput,
	fiber.StatusUnprocessableEntity:   services.KindInvalidInput,
	fiber.StatusTooManyRequests:       services.KindRateLimited,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind services.ErrorKind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders every error as {"error":{"code","message"}}.
// Internal causes are logged, never returned.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		kind, ok := statusKind[fe.Code]
		if !ok {
			kind = services.KindInternal
		}
		return writeError(c, fe.Code, kind, fe.Message)
	}

	kind := services.KindOf(err)
	if kind == services.KindInternal {
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("[API] internal error")
	}
	return writeError(c, StatusFor(kind), kind, services.PublicMessage(err))
}

func writeError(c *fiber.Ctx, status int, kind services.ErrorKind, msg string) error {
	if kind == services.KindInternal {
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    kind,
			"message": msg,
		},
	})
}
