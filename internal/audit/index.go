package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/safeguard-project/safeguard/pkg/fsutil"
)

// indexFileName is the top-level file mapping entry id to bucket location.
// It is derived state: rebuildIndex can always regenerate it from the
// buckets alone.
const indexFileName = "index.jsonl"

type indexEntry struct {
	ID     string `json:"id"`
	Bucket string `json:"bucket"`
}

// loadIndex reads the index into memory. The second return value reports
// whether malformed lines were skipped, which signals the index needs a
// rebuild.
func loadIndex(root string) (map[string]string, bool, error) {
	idx := make(map[string]string)

	f, err := os.Open(filepath.Join(root, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return idx, false, nil
		}
		return nil, false, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	dirty := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e indexEntry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" || e.Bucket == "" {
			dirty = true
			continue
		}
		idx[e.ID] = e.Bucket
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("scan index: %w", err)
	}

	return idx, dirty, nil
}

// appendIndex durably records one id to bucket mapping. Caller holds the
// trail mutex.
func appendIndex(root string, e indexEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(root, indexFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("flock index: %w", err)
	}
	defer unlockFile(f)

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}
	return nil
}

// rebuildIndex rescans every bucket and atomically rewrites the index file.
// Returns the fresh in-memory index.
func rebuildIndex(root string) (map[string]string, error) {
	buckets, err := listBuckets(root, zeroTime, zeroTime)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]string)
	var buf bytes.Buffer

	for _, rel := range buckets {
		err := scanBucket(root, rel, func(_ int, raw []byte) error {
			var partial struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &partial); err != nil || partial.ID == "" {
				// Malformed lines surface during VerifyIntegrity; the index
				// only tracks addressable entries.
				return nil
			}
			idx[partial.ID] = rel
			line, err := json.Marshal(indexEntry{ID: partial.ID, Bucket: rel})
			if err != nil {
				return err
			}
			buf.Write(line)
			buf.WriteByte('\n')
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if err := fsutil.AtomicWrite(filepath.Join(root, indexFileName), buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("write index: %w", err)
	}
	return idx, nil
}

// scanBucket streams the raw lines of one bucket file. A missing bucket is
// not an error. fn receives the 1-based line number.
func scanBucket(root, rel string, fn func(lineNo int, raw []byte) error) error {
	f, err := os.Open(bucketAbs(root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open bucket %s: %w", rel, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan bucket %s: %w", rel, err)
	}
	return nil
}
