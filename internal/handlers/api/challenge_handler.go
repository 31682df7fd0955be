package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kguard/internal/auth"
	"github.com/khanghh/kguard/internal/challenge"
	"github.com/khanghh/kguard/internal/honeytrap"
)

type AuthorizeService interface {
	BeginChallenge(ctx context.Context, ownerHint string, targetIcon string) (*auth.ChallengeSession, error)
	CompleteChallenge(ctx context.Context, req auth.CompleteRequest) (*auth.CompleteResult, error)
}

type TrapRecorder interface {
	RecordTrigger(ctx context.Context, challengeID string, decoyID string) error
}

type createChallengeRequest struct {
	OwnerHint  string `json:"ownerHint"  validate:"required,max=128"`
	TargetIcon string `json:"targetIcon" validate:"required,max=32"`
}

type verifyChallengeRequest struct {
	Selected     []int                        `json:"selected"     validate:"max=64"`
	Interactions []honeytrap.InteractionEvent `json:"interactions" validate:"max=1024"`
	ElapsedMs    int64                        `json:"elapsedMs"    validate:"min=0"`
}

type ChallengeHandler struct {
	authorizeService AuthorizeService
	traps            TrapRecorder
}

func (h *ChallengeHandler) PostChallenge(ctx *fiber.Ctx) error {
	var req createChallengeRequest
	if ok, err := parseBody(ctx, &req); !ok {
		return err
	}
	session, err := h.authorizeService.BeginChallenge(ctx.UserContext(), req.OwnerHint, req.TargetIcon)
	switch {
	case errors.Is(err, challenge.ErrOwnerHintEmpty), errors.Is(err, challenge.ErrUnknownIcon):
		return sendError(ctx, fiber.StatusBadRequest, err.Error())
	case err != nil:
		return sendInternalError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(session))
}

func (h *ChallengeHandler) PostVerify(ctx *fiber.Ctx) error {
	challengeID, ok := pathID(ctx, "id")
	if !ok {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid challenge id")
	}
	var req verifyChallengeRequest
	if ok, err := parseBody(ctx, &req); !ok {
		return err
	}
	result, err := h.authorizeService.CompleteChallenge(ctx.UserContext(), auth.CompleteRequest{
		ChallengeID:  challengeID,
		Selected:     req.Selected,
		Interactions: req.Interactions,
		Elapsed:      time.Duration(req.ElapsedMs) * time.Millisecond,
	})
	if err != nil {
		return sendInternalError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(result))
}

// PostDecoyBeacon receives the beacon fired when a decoy is touched.
func (h *ChallengeHandler) PostDecoyBeacon(ctx *fiber.Ctx) error {
	challengeID, ok := pathID(ctx, "id")
	if !ok {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid challenge id")
	}
	err := h.traps.RecordTrigger(ctx.UserContext(), challengeID, ctx.Params("decoyId"))
	switch {
	case errors.Is(err, honeytrap.ErrDecoySetNotFound), errors.Is(err, honeytrap.ErrUnknownDecoy):
		return sendError(ctx, fiber.StatusNotFound, err.Error())
	case err != nil:
		return sendInternalError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func NewChallengeHandler(authorizeService AuthorizeService, traps TrapRecorder) *ChallengeHandler {
	return &ChallengeHandler{
		authorizeService: authorizeService,
		traps:            traps,
	}
}
