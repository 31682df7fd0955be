package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kguard/internal/credential"
)

type CredentialService interface {
	VerifySignatureAndConsume(ctx context.Context, token string) (*credential.VerifyResult, error)
	Redeem(ctx context.Context, refreshToken string) (*credential.RedeemResult, error)
	Revoke(ctx context.Context, credentialID string, actor string) error
	Status(ctx context.Context, credentialID string) (*credential.Record, error)
	PublicKeys() ([]credential.PublicKey, error)
}

type verifyCredentialRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

type refreshCredentialRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=4096"`
}

type revokeCredentialRequest struct {
	Actor string `json:"actor" validate:"max=128"`
}

type CredentialHandler struct {
	credentialService CredentialService
}

func (h *CredentialHandler) PostVerify(ctx *fiber.Ctx) error {
	var req verifyCredentialRequest
	if ok, err := parseBody(ctx, &req); !ok {
		return err
	}
	result, err := h.credentialService.VerifySignatureAndConsume(ctx.UserContext(), req.Token)
	if err != nil {
		return sendInternalError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(result))
}

func (h *CredentialHandler) PostRefresh(ctx *fiber.Ctx) error {
	var req refreshCredentialRequest
	if ok, err := parseBody(ctx, &req); !ok {
		return err
	}
	result, err := h.credentialService.Redeem(ctx.UserContext(), req.RefreshToken)
	if err != nil {
		return sendInternalError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(result))
}

func (h *CredentialHandler) PostRevoke(ctx *fiber.Ctx) error {
	credentialID, ok := pathID(ctx, "jti")
	if !ok {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid credential id")
	}
	var req revokeCredentialRequest
	if len(ctx.Body()) > 0 {
		if ok, err := parseBody(ctx, &req); !ok {
			return err
		}
	}
	if err := h.credentialService.Revoke(ctx.UserContext(), credentialID, req.Actor); err != nil {
		return sendInternalError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (h *CredentialHandler) GetStatus(ctx *fiber.Ctx) error {
	credentialID, ok := pathID(ctx, "jti")
	if !ok {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid credential id")
	}
	record, err := h.credentialService.Status(ctx.UserContext(), credentialID)
	switch {
	case errors.Is(err, credential.ErrCredentialNotFound):
		return sendError(ctx, fiber.StatusNotFound, "Credential not found")
	case err != nil:
		return sendInternalError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(record))
}

func (h *CredentialHandler) GetPublicKeys(ctx *fiber.Ctx) error {
	keys, err := h.credentialService.PublicKeys()
	if err != nil {
		return sendInternalError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"keys": keys}))
}

func NewCredentialHandler(credentialService CredentialService) *CredentialHandler {
	return &CredentialHandler{credentialService: credentialService}
}
