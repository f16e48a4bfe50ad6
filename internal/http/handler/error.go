package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"holodoc/internal/http/middleware"
	"holodoc/internal/service"
	"holodoc/internal/vision"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if s, ok := c.Locals(middleware.RequestIDLocalKey).(string); ok {
		return s
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// respondError maps a service error onto its HTTP status and error code.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, vision.ErrNoDocumentDetected):
		return writeError(c, fiber.StatusUnprocessableEntity, "NO_DOCUMENT_DETECTED", "no document detected in photo")
	case errors.Is(err, vision.ErrEmptyCapture), errors.Is(err, vision.ErrBufferSize),
		errors.Is(err, vision.ErrCaptureTooLarge):
		return writeError(c, fiber.StatusBadRequest, "INVALID_PHOTO", err.Error())
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "ID_REQUIRED", "document id is required")
	case errors.Is(err, service.ErrSelfLink):
		return writeError(c, fiber.StatusBadRequest, "SELF_LINK", "a document cannot link to itself")
	case errors.Is(err, service.ErrEmptyPatch):
		return writeError(c, fiber.StatusBadRequest, "EMPTY_PATCH", "no properties to update")
	case errors.Is(err, service.ErrUnknownDocument):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, service.ErrLinkNotFound):
		return writeError(c, fiber.StatusNotFound, "LINK_NOT_FOUND", "link not found")
	case errors.Is(err, service.ErrPersistence),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
