package middlewares

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestTimeout bounds the user context of every request, so store, signer
// and audit calls made by the handlers give up once the deadline passes.
func RequestTimeout(timeout time.Duration) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		userCtx, cancel := context.WithTimeout(ctx.UserContext(), timeout)
		defer cancel()
		ctx.SetUserContext(userCtx)
		return ctx.Next()
	}
}
