package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/khanghh/kguard/internal/store"
)

const apiVersion = "1.0"

var validate = validator.New()

type APIResponse struct {
	APIVersion string        `json:"apiVersion"`
	Data       any           `json:"data,omitempty"`
	Error      *APIErrorInfo `json:"error,omitempty"`
}

type APIErrorInfo struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Errors  []APIErrorDetail `json:"errors,omitempty"`
}

type APIErrorDetail struct {
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func NewDataResponse(data any) APIResponse {
	return APIResponse{APIVersion: apiVersion, Data: data}
}

func NewErrorResponse(code int, message string, details ...APIErrorDetail) APIResponse {
	return APIResponse{
		APIVersion: apiVersion,
		Error:      &APIErrorInfo{Code: code, Message: message, Errors: details},
	}
}

func sendError(ctx *fiber.Ctx, code int, message string, details ...APIErrorDetail) error {
	return ctx.Status(code).JSON(NewErrorResponse(code, message, details...))
}

// sendInternalError reports an infrastructure fault. A storage backend shed by
// its circuit breaker or a request past its deadline is reported as
// temporarily unavailable.
func sendInternalError(ctx *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		slog.Warn("Storage unavailable", "path", ctx.Path(), "error", err)
		return sendError(ctx, fiber.StatusServiceUnavailable, "Service temporarily unavailable")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("Request timed out", "path", ctx.Path(), "error", err)
		return sendError(ctx, fiber.StatusServiceUnavailable, "Request timed out")
	}
	slog.Error("Request failed", "path", ctx.Path(), "error", err)
	return sendError(ctx, fiber.StatusInternalServerError, "Internal server error")
}

// pathID returns the named route parameter. Challenge and credential ids are
// UUIDs, anything else is rejected before it reaches a store or the audit chain.
func pathID(ctx *fiber.Ctx, name string) (string, bool) {
	id := ctx.Params(name)
	return id, uuid.Validate(id) == nil
}

// parseBody decodes the JSON body into req and validates it. On failure the
// error response has already been written and the returned error is the
// result of writing it.
func parseBody(ctx *fiber.Ctx, req any) (bool, error) {
	if err := ctx.BodyParser(req); err != nil {
		return false, sendError(ctx, fiber.StatusBadRequest, "Malformed request body")
	}
	if err := validate.Struct(req); err != nil {
		var details []APIErrorDetail
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, APIErrorDetail{
					Domain:  fe.Field(),
					Reason:  fe.Tag(),
					Message: fe.Error(),
				})
			}
		}
		return false, sendError(ctx, fiber.StatusBadRequest, "Invalid request", details...)
	}
	return true, nil
}
