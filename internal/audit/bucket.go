package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// DefaultMaxSegmentBytes bounds one day segment before rolling to the next.
const DefaultMaxSegmentBytes = 4 << 20

var (
	yearDirRe  = regexp.MustCompile(`^\d{4}$`)
	monthDirRe = regexp.MustCompile(`^\d{2}$`)
	segmentRe  = regexp.MustCompile(`^(\d{2})-(\d{3})\.jsonl$`)
)

// bucketRel returns the bucket location relative to the trail root, always
// with forward slashes: "2026/08/25-000.jsonl". This string is the index's
// value and part of the durable layout contract.
func bucketRel(day time.Time, segment int) string {
	day = day.UTC()
	return fmt.Sprintf("%04d/%02d/%02d-%03d.jsonl", day.Year(), int(day.Month()), day.Day(), segment)
}

// parseBucketRel recovers the day and segment from a relative bucket path.
func parseBucketRel(rel string) (time.Time, int, error) {
	var year, month, day, segment int
	if _, err := fmt.Sscanf(rel, "%04d/%02d/%02d-%03d.jsonl", &year, &month, &day, &segment); err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed bucket path %q: %w", rel, err)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), segment, nil
}

// bucketAbs maps a relative bucket path onto the filesystem.
func bucketAbs(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// currentSegment picks the segment an append of lineLen bytes should go to,
// rolling over when the newest segment would exceed maxBytes. The size check
// is advisory: concurrent writers may overshoot by one entry.
func currentSegment(root string, day time.Time, lineLen int, maxBytes int64) (string, error) {
	day = day.UTC()
	monthDir := filepath.Join(root, fmt.Sprintf("%04d", day.Year()), fmt.Sprintf("%02d", int(day.Month())))

	entries, err := os.ReadDir(monthDir)
	if err != nil {
		if os.IsNotExist(err) {
			return bucketRel(day, 0), nil
		}
		return "", fmt.Errorf("read bucket dir: %w", err)
	}

	wantDay := fmt.Sprintf("%02d", day.Day())
	maxSeg := -1
	for _, e := range entries {
		m := segmentRe.FindStringSubmatch(e.Name())
		if m == nil || m[1] != wantDay {
			continue
		}
		seg, _ := strconv.Atoi(m[2])
		if seg > maxSeg {
			maxSeg = seg
		}
	}
	if maxSeg < 0 {
		return bucketRel(day, 0), nil
	}

	info, err := os.Stat(filepath.Join(monthDir, fmt.Sprintf("%s-%03d.jsonl", wantDay, maxSeg)))
	if err != nil {
		return "", fmt.Errorf("stat segment: %w", err)
	}
	if info.Size() > 0 && info.Size()+int64(lineLen) > maxBytes {
		return bucketRel(day, maxSeg+1), nil
	}
	return bucketRel(day, maxSeg), nil
}

// listBuckets returns the relative paths of every bucket whose day overlaps
// [from, to], in chronological order. Zero bounds are open.
func listBuckets(root string, from, to time.Time) ([]string, error) {
	var out []string

	years, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trail root: %w", err)
	}

	for _, y := range years {
		if !y.IsDir() || !yearDirRe.MatchString(y.Name()) {
			continue
		}
		months, err := os.ReadDir(filepath.Join(root, y.Name()))
		if err != nil {
			return nil, fmt.Errorf("read year dir: %w", err)
		}
		for _, m := range months {
			if !m.IsDir() || !monthDirRe.MatchString(m.Name()) {
				continue
			}
			segments, err := os.ReadDir(filepath.Join(root, y.Name(), m.Name()))
			if err != nil {
				return nil, fmt.Errorf("read month dir: %w", err)
			}
			for _, s := range segments {
				if s.IsDir() || !segmentRe.MatchString(s.Name()) {
					continue
				}
				rel := y.Name() + "/" + m.Name() + "/" + s.Name()
				day, _, err := parseBucketRel(rel)
				if err != nil {
					continue
				}
				if !from.IsZero() && day.Add(24*time.Hour-time.Nanosecond).Before(from) {
					continue
				}
				if !to.IsZero() && day.After(to) {
					continue
				}
				out = append(out, rel)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}
