package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kguard/internal/audit"
	"github.com/khanghh/kguard/model"
	"github.com/spf13/cast"
)

type AuditService interface {
	Append(ctx context.Context, event audit.Event) (*model.AuditEntry, error)
	VerifyAuditRange(ctx context.Context, startID, endID uint64) (*audit.VerifyResult, error)
	Query(ctx context.Context, filter audit.Filter) ([]model.AuditEntry, error)
	Export(ctx context.Context, filter audit.Filter, format string) (*audit.Export, error)
}

type AuditHandler struct {
	auditService AuditService
}

func parseFilter(ctx *fiber.Ctx) (audit.Filter, error) {
	filter := audit.Filter{
		Actor:    ctx.Query("actor"),
		Action:   ctx.Query("action"),
		Resource: ctx.Query("resource"),
		Status:   ctx.Query("status"),
		Severity: ctx.Query("severity"),
		Limit:    ctx.QueryInt("limit", 100),
	}
	var err error
	if v := ctx.Query("from"); v != "" {
		if filter.From, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, err
		}
	}
	if v := ctx.Query("to"); v != "" {
		if filter.To, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func (h *AuditHandler) PostEvent(ctx *fiber.Ctx) error {
	var event audit.Event
	if ok, err := parseBody(ctx, &event); !ok {
		return err
	}
	entry, err := h.auditService.Append(ctx.UserContext(), event)
	switch {
	case errors.Is(err, audit.ErrInvalidEvent):
		return sendError(ctx, fiber.StatusBadRequest, err.Error())
	case err != nil:
		return sendInternalError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(entry))
}

func (h *AuditHandler) GetVerify(ctx *fiber.Ctx) error {
	startID, err := cast.ToUint64E(ctx.Query("start"))
	if err != nil || startID == 0 {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid start id")
	}
	endID, err := cast.ToUint64E(ctx.Query("end"))
	if err != nil || endID == 0 {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid end id")
	}

	result, err := h.auditService.VerifyAuditRange(ctx.UserContext(), startID, endID)
	switch {
	case errors.Is(err, audit.ErrEntryNotFound):
		return sendError(ctx, fiber.StatusNotFound, err.Error())
	case errors.Is(err, audit.ErrInvalidRange):
		return sendError(ctx, fiber.StatusBadRequest, err.Error())
	case err != nil:
		return sendInternalError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(result))
}

func (h *AuditHandler) GetEntries(ctx *fiber.Ctx) error {
	filter, err := parseFilter(ctx)
	if err != nil {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid time range")
	}
	entries, err := h.auditService.Query(ctx.UserContext(), filter)
	if err != nil {
		return sendInternalError(ctx, err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"entries": entries, "count": len(entries)}))
}

func (h *AuditHandler) GetExport(ctx *fiber.Ctx) error {
	filter, err := parseFilter(ctx)
	if err != nil {
		return sendError(ctx, fiber.StatusBadRequest, "Invalid time range")
	}
	filter.Limit = ctx.QueryInt("limit", 0)

	export, err := h.auditService.Export(ctx.UserContext(), filter, ctx.Query("format"))
	switch {
	case errors.Is(err, audit.ErrUnsupportedFormat):
		return sendError(ctx, fiber.StatusBadRequest, err.Error())
	case err != nil:
		return sendInternalError(ctx, err)
	}

	contentType := fiber.MIMEApplicationJSON
	if export.Format == audit.ExportFormatCSV {
		contentType = "text/csv"
	}
	ctx.Set(fiber.HeaderContentType, contentType)
	ctx.Set(fiber.HeaderContentDisposition, `attachment; filename="audit-export.`+export.Format+`"`)
	ctx.Set("X-Integrity-Hash", export.IntegrityHash)
	ctx.Set("X-Export-Count", cast.ToString(export.Count))
	return ctx.Send(export.Data)
}

func NewAuditHandler(auditService AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}
