// Package audit persists signed, append-only records of validations,
// incidents and remediations. Entries are bucketed by calendar day
// (YEAR/MONTH/DD-segment.jsonl) under a single root, with a top-level index
// mapping entry id to bucket. The index is derived state and can always be
// rebuilt by rescanning the buckets.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/metrics"
	"github.com/safeguard-project/safeguard/pkg/model"
	"github.com/safeguard-project/safeguard/pkg/notify"
)

var zeroTime time.Time

// Options configures a Trail.
type Options struct {
	// SigningKey enables HMAC-SHA256 signatures. Nil means keyless SHA-256.
	SigningKey []byte
	// SegmentMaxBytes bounds one bucket segment; zero uses the default.
	SegmentMaxBytes int64
	// Notifier receives fire-and-forget alerts for high-risk entries.
	Notifier notify.Notifier
	// NotifyThreshold is the risk score at or above which an appended entry
	// triggers a notification.
	NotifyThreshold float64
	Logger          *logging.Logger
	Registry        *metrics.Registry
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Trail is the append-only audit store. Safe for concurrent use; concurrent
// appends from separate processes are serialized per file with flock.
type Trail struct {
	root            string
	signer          *Signer
	notifier        notify.Notifier
	notifyThreshold float64
	segmentMax      int64
	log             *logging.Logger
	reg             *metrics.Registry
	now             func() time.Time

	mu     sync.Mutex
	index  map[string]string
	closed bool

	notifyWG sync.WaitGroup
}

// Open opens (or creates) a trail rooted at dir and loads the index. A
// missing or damaged index is rebuilt from the buckets.
func Open(dir string, opts Options) (*Trail, error) {
	if dir == "" {
		return nil, errclass.ErrInvalidInput.WithMessage("trail root must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errclass.ErrStorageFailure.WithMessagef("create trail root: %v", err)
	}

	t := &Trail{
		root:            dir,
		signer:          NewSigner(opts.SigningKey),
		notifier:        opts.Notifier,
		notifyThreshold: opts.NotifyThreshold,
		segmentMax:      opts.SegmentMaxBytes,
		log:             opts.Logger,
		reg:             opts.Registry,
		now:             opts.Now,
	}
	if t.segmentMax <= 0 {
		t.segmentMax = DefaultMaxSegmentBytes
	}
	if t.log == nil {
		t.log = logging.Default()
	}
	if t.now == nil {
		t.now = time.Now
	}

	idx, dirty, err := loadIndex(dir)
	if err != nil {
		return nil, errclass.ErrStorageFailure.WithMessagef("load index: %v", err)
	}
	if dirty || len(idx) == 0 {
		// Missing or damaged index entries; regenerate from the buckets.
		rebuilt, err := rebuildIndex(dir)
		if err != nil {
			return nil, errclass.ErrIndexCorrupt.WithMessagef("rebuild index: %v", err)
		}
		if dirty {
			t.log.Warn("audit index had malformed lines, rebuilt from buckets", map[string]any{
				"root": dir,
			})
		}
		idx = rebuilt
	}
	t.index = idx

	return t, nil
}

// Root returns the trail's storage root.
func (t *Trail) Root() string {
	return t.root
}

// Keyed reports whether entries are signed with an HMAC key.
func (t *Trail) Keyed() bool {
	return t.signer.Keyed()
}

// Len returns the number of indexed entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index)
}

// Append signs the entry and durably persists it, returning the entry id.
// Missing id and timestamps are filled in. The write is atomic at entry
// granularity: on error nothing of the entry is observable to readers.
func (t *Trail) Append(ctx context.Context, entry *model.AuditEntry) (id string, err error) {
	if t.reg != nil {
		defer func() { t.reg.RecordAppend(err) }()
	}

	if entry == nil {
		return "", errclass.ErrInvalidInput.WithMessage("audit entry must not be nil")
	}
	if entry.EventType == "" {
		return "", errclass.ErrInvalidInput.WithMessage("audit entry event type must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if entry.ID == "" {
		entry.ID = model.NewEntryID()
	}
	if entry.TimestampUnix == 0 {
		now := t.now().UTC()
		entry.TimestampUnix = now.UnixMilli()
		entry.TimestampISO = now.Format(time.RFC3339Nano)
	}

	sig, err := t.signer.Sign(entry)
	if err != nil {
		return "", errclass.ErrStorageFailure.WithMessagef("sign entry: %v", err)
	}
	entry.Signature = sig

	line, err := json.Marshal(entry)
	if err != nil {
		return "", errclass.ErrStorageFailure.WithMessagef("marshal entry: %v", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", errclass.ErrStorageFailure.WithMessage("trail is closed")
	}
	if _, exists := t.index[entry.ID]; exists {
		return "", errclass.ErrInvalidInput.WithMessagef("duplicate entry id: %s", entry.ID)
	}

	rel, err := currentSegment(t.root, entry.Time(), len(line)+1, t.segmentMax)
	if err != nil {
		return "", errclass.ErrStorageFailure.WithMessagef("pick segment: %v", err)
	}
	if err := t.writeLine(rel, line); err != nil {
		return "", err
	}
	if err := appendIndex(t.root, indexEntry{ID: entry.ID, Bucket: rel}); err != nil {
		// The entry is durable; only the derived index lagged. Readers
		// recover it on the next rebuild.
		t.log.ErrorErr("index append failed", err, map[string]any{"entry_id": entry.ID})
	}
	t.index[entry.ID] = rel

	t.maybeNotify(entry)

	return entry.ID, nil
}

// writeLine appends one record line to the bucket under flock. Caller holds
// the trail mutex.
func (t *Trail) writeLine(rel string, line []byte) error {
	abs := bucketAbs(t.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return errclass.ErrStorageFailure.WithMessagef("create bucket dir: %v", err)
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errclass.ErrStorageFailure.WithMessagef("open bucket: %v", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return errclass.ErrStorageFailure.WithMessagef("flock bucket: %v", err)
	}
	defer unlockFile(f)

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errclass.ErrStorageFailure.WithMessagef("write entry: %v", err)
	}
	if err := f.Sync(); err != nil {
		return errclass.ErrStorageFailure.WithMessagef("sync bucket: %v", err)
	}
	return nil
}

// maybeNotify fires the high-risk alert without blocking the append. Caller
// holds the trail mutex.
func (t *Trail) maybeNotify(entry *model.AuditEntry) {
	if t.notifier == nil || entry.RiskScore < t.notifyThreshold {
		return
	}

	e := *entry
	t.notifyWG.Add(1)
	go func() {
		defer t.notifyWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msg := fmt.Sprintf("high-risk %s recorded (score %.2f)", e.EventType, e.RiskScore)
		err := t.notifier.Notify(ctx, model.SeverityHigh, msg, map[string]any{
			"entry_id":   e.ID,
			"event_type": string(e.EventType),
			"agent_id":   e.Agent.ID,
			"risk_score": e.RiskScore,
		})
		if err != nil {
			t.log.Warn("high-risk notification failed", map[string]any{
				"entry_id": e.ID,
				"error":    err.Error(),
			})
			return
		}
		if t.reg != nil {
			t.reg.RecordNotification()
		}
	}()
}

// Get returns the entry with the given id.
func (t *Trail) Get(ctx context.Context, id string) (*model.AuditEntry, error) {
	if id == "" {
		return nil, errclass.ErrInvalidInput.WithMessage("entry id must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	rel, ok := t.index[id]
	t.mu.Unlock()
	if !ok {
		return nil, errclass.ErrEntryNotFound.WithMessagef("entry %s", id)
	}

	var found *model.AuditEntry
	err := scanBucket(t.root, rel, func(_ int, raw []byte) error {
		var e model.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil
		}
		if e.ID == id {
			found = &e
		}
		return nil
	})
	if err != nil {
		return nil, errclass.ErrStorageFailure.WithMessagef("read bucket: %v", err)
	}
	if found == nil {
		// Index points into a bucket that no longer holds the entry.
		return nil, errclass.ErrIndexCorrupt.WithMessagef("entry %s indexed in %s but absent", id, rel)
	}
	return found, nil
}

// RebuildIndex rescans every bucket and rewrites the index atomically.
func (t *Trail) RebuildIndex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := rebuildIndex(t.root)
	if err != nil {
		return errclass.ErrStorageFailure.WithMessagef("rebuild index: %v", err)
	}
	t.index = idx
	return nil
}

// Close waits for in-flight notifications and marks the trail closed.
// Appends after Close fail.
func (t *Trail) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.notifyWG.Wait()
	return nil
}
