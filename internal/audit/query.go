package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	From         time.Time
	To           time.Time
	EventType    model.EventType
	AgentID      string
	DeploymentID string
	// Limit caps the number of returned entries; zero means no cap.
	Limit int
}

func (f Filter) matches(e *model.AuditEntry) bool {
	ts := e.Time()
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.AgentID != "" && e.Agent.ID != f.AgentID {
		return false
	}
	if f.DeploymentID != "" {
		dep, _ := e.Payload["deployment_id"].(string)
		if dep != f.DeploymentID {
			return false
		}
	}
	return true
}

// Query returns matching entries in append order (chronological per day
// bucket). Malformed lines are skipped; VerifyIntegrity reports them.
func (t *Trail) Query(ctx context.Context, f Filter) ([]*model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buckets, err := listBuckets(t.root, f.From, f.To)
	if err != nil {
		return nil, errclass.ErrStorageFailure.WithMessagef("list buckets: %v", err)
	}

	var out []*model.AuditEntry
	for _, rel := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := scanBucket(t.root, rel, func(_ int, raw []byte) error {
			if f.Limit > 0 && len(out) >= f.Limit {
				return nil
			}
			var e model.AuditEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				return nil
			}
			if f.matches(&e) {
				out = append(out, &e)
			}
			return nil
		})
		if err != nil {
			return nil, errclass.ErrStorageFailure.WithMessagef("scan bucket: %v", err)
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
