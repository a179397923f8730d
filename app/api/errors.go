package api

import (
	"errors"
	"fmt"

	"docchat/service"
	"docchat/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// NewErrorHandler renders every error returned by a handler as JSON.
func NewErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr Error
		if errors.As(err, &apiErr) {
			return c.Status(apiErr.Code).JSON(apiErr)
		}
		var valErr ValidationError
		if errors.As(err, &valErr) {
			return c.Status(valErr.Status).JSON(valErr)
		}

		apiErr = fromDomain(err)
		if apiErr.Code >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("code", apiErr.Code),
				zap.Error(err),
			)
		}
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}

func fromDomain(err error) Error {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return NewError(fiberErr.Code, fiberErr.Message)
	case errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrNotPDF):
		return NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidPDF):
		return NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrBackend):
		return NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, store.ErrDimensionMismatch):
		return NewError(fiber.StatusConflict, err.Error())
	default:
		return NewError(fiber.StatusInternalServerError, "internal server error")
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid request",
	}
}

func ErrInvalidPath() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid path",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s %v not found", resource, arg),
	}
}

func ErrTooManyRequests() Error {
	return Error{
		Code:    fiber.StatusTooManyRequests,
		Message: "too many requests",
	}
}
