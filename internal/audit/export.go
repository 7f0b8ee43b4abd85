package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	// FormatJSONL streams entries as newline-delimited JSON, byte-identical
	// to their stored form.
	FormatJSONL ExportFormat = "jsonl"
	// FormatCSV flattens entries into tabular rows with the payload as a
	// JSON column.
	FormatCSV ExportFormat = "csv"
)

// ParseExportFormat maps a user-supplied format name onto an ExportFormat.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatJSONL:
		return FormatJSONL, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", errclass.ErrExportFormat.WithMessagef("unknown export format %q (want jsonl or csv)", s)
	}
}

// ExportRange writes every entry in the range to w in the given format.
func (t *Trail) ExportRange(ctx context.Context, r Range, format ExportFormat, w io.Writer) error {
	switch format {
	case FormatJSONL:
		return t.exportJSONL(ctx, r, w)
	case FormatCSV:
		return t.exportCSV(ctx, r, w)
	default:
		return errclass.ErrExportFormat.WithMessagef("unknown export format %q", format)
	}
}

func (t *Trail) exportJSONL(ctx context.Context, r Range, w io.Writer) error {
	return t.forEachInRange(ctx, r, func(raw []byte, _ *model.AuditEntry) error {
		if _, err := w.Write(raw); err != nil {
			return err
		}
		_, err := w.Write([]byte{'\n'})
		return err
	})
}

func (t *Trail) exportCSV(ctx context.Context, r Range, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "timestamp_iso", "event_type",
		"agent_id", "agent_name", "risk_score",
		"deployment_id", "signature", "payload",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	err := t.forEachInRange(ctx, r, func(_ []byte, e *model.AuditEntry) error {
		deploymentID, _ := e.Payload["deployment_id"].(string)
		payload := ""
		if len(e.Payload) > 0 {
			data, err := json.Marshal(e.Payload)
			if err != nil {
				return err
			}
			payload = string(data)
		}
		return cw.Write([]string{
			e.ID,
			e.TimestampISO,
			string(e.EventType),
			e.Agent.ID,
			e.Agent.Name,
			strconv.FormatFloat(e.RiskScore, 'f', -1, 64),
			deploymentID,
			e.Signature,
			payload,
		})
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// forEachInRange streams the raw line and parsed form of every in-range
// entry, in bucket order.
func (t *Trail) forEachInRange(ctx context.Context, r Range, fn func(raw []byte, e *model.AuditEntry) error) error {
	buckets, err := listBuckets(t.root, r.From, r.To)
	if err != nil {
		return errclass.ErrStorageFailure.WithMessagef("list buckets: %v", err)
	}

	for _, rel := range buckets {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := scanBucket(t.root, rel, func(_ int, raw []byte) error {
			var e model.AuditEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				return nil
			}
			if !r.contains(e.Time()) {
				return nil
			}
			return fn(raw, &e)
		})
		if err != nil {
			return fmt.Errorf("export bucket %s: %w", rel, err)
		}
	}
	return nil
}
