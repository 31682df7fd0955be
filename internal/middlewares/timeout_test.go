package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/khanghh/kguard/internal/credential"
	"github.com/khanghh/kguard/internal/handlers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingCredentials waits on the request context in every call.
type blockingCredentials struct {
	hadDeadline bool
}

func (b *blockingCredentials) wait(ctx context.Context) error {
	_, b.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingCredentials) VerifySignatureAndConsume(ctx context.Context, token string) (*credential.VerifyResult, error) {
	return nil, b.wait(ctx)
}

func (b *blockingCredentials) Redeem(ctx context.Context, refreshToken string) (*credential.RedeemResult, error) {
	return nil, b.wait(ctx)
}

func (b *blockingCredentials) Revoke(ctx context.Context, credentialID string, actor string) error {
	return b.wait(ctx)
}

func (b *blockingCredentials) Status(ctx context.Context, credentialID string) (*credential.Record, error) {
	return nil, b.wait(ctx)
}

func (b *blockingCredentials) PublicKeys() ([]credential.PublicKey, error) {
	return nil, nil
}

func TestRequestTimeout(t *testing.T) {
	service := &blockingCredentials{}
	handler := api.NewCredentialHandler(service)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(RequestTimeout(50 * time.Millisecond))
	app.Post("/credentials/:jti/revoke", handler.PostRevoke)

	start := time.Now()
	req := httptest.NewRequest(http.MethodPost, "/credentials/"+uuid.NewString()+"/revoke", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, service.hadDeadline)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body api.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Error)
	assert.Equal(t, fiber.StatusServiceUnavailable, body.Error.Code)
}

func TestRequestTimeoutKeepsFastRequests(t *testing.T) {
	app := fiber.New()
	app.Use(RequestTimeout(time.Second))
	app.Get("/", func(ctx *fiber.Ctx) error {
		deadline, ok := ctx.UserContext().Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		return ctx.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
