package audit

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
	"github.com/khanghh/kguard/model"
	"github.com/spf13/cast"
	"github.com/valyala/bytebufferpool"
)

const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

var csvHeader = []string{
	"id", "chain_id", "seq", "timestamp", "actor", "action", "resource",
	"status", "severity", "details", "hash", "previous_hash",
}

// Export is a snapshot of matching entries. IntegrityHash is the SHA-256 of
// Data so that a recipient can detect a truncated or altered file.
type Export struct {
	Format        string    `json:"format"`
	Count         int       `json:"count"`
	ExportedAt    time.Time `json:"exportedAt"`
	IntegrityHash string    `json:"integrityHash"`
	Data          []byte    `json:"-"`
}

func (c *Chain) Export(ctx context.Context, filter Filter, format string) (*Export, error) {
	if format == "" {
		format = ExportFormatJSON
	}
	if format != ExportFormatJSON && format != ExportFormatCSV {
		return nil, ErrUnsupportedFormat
	}

	entries, err := c.repo.Find(ctx, c.chainID, filter)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch format {
	case ExportFormatCSV:
		data, err = encodeCSV(entries)
	default:
		if entries == nil {
			entries = []model.AuditEntry{}
		}
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return &Export{
		Format:        format,
		Count:         len(entries),
		ExportedAt:    c.now().UTC(),
		IntegrityHash: hex.EncodeToString(sum[:]),
		Data:          data,
	}, nil
}

func encodeCSV(entries []model.AuditEntry) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		var prevHash string
		if e.PreviousHash != nil {
			prevHash = *e.PreviousHash
		}
		record := []string{
			cast.ToString(e.ID),
			e.ChainID,
			cast.ToString(e.Seq),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Actor,
			e.Action,
			e.Resource,
			e.Status,
			e.Severity,
			e.Details,
			e.Hash,
			prevHash,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}
