// Package name implements the snapshot naming scheme that carries all
// durable zap state: ZAP_<origin-host>_<timestamp>--<ttl>. The embedded
// timestamp uses + replaced by p so that names stay filename-safe.
package name

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Prefix = "ZAP_"

	timeLayout = "2006-01-02T15:04:05-0700"
)

// ErrMalformed marks a name that was not produced by zap. Callers must
// treat it as "not ours" and skip, never as fatal.
var ErrMalformed = errors.New("not a zap snapshot name")

var (
	namePattern = regexp.MustCompile(`^ZAP_([0-9A-Za-z][-0-9A-Za-z.]*)_(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[p-]\d{4})--(\d{1,4})([dwmy])$`)
	ttlPattern  = regexp.MustCompile(`^(\d{1,4})([dwmy])$`)
)

// TTL is a policy class, not a calendar duration: a month is always
// exactly 30 days, a year exactly 365.
type TTL struct {
	Count int
	Unit  byte
}

var unitSeconds = map[byte]int64{
	'd': 86400,
	'w': 604800,
	'm': 2592000,
	'y': 31536000,
}

func ParseTTL(s string) (TTL, error) {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return TTL{}, fmt.Errorf("invalid TTL %q: want 1-4 digits followed by d, w, m or y", s)
	}
	count, err := strconv.Atoi(m[1])
	if err != nil || count <= 0 {
		return TTL{}, fmt.Errorf("invalid TTL %q: count must be positive", s)
	}
	return TTL{Count: count, Unit: m[2][0]}, nil
}

func (t TTL) Duration() time.Duration {
	return time.Duration(int64(t.Count)*unitSeconds[t.Unit]) * time.Second
}

func (t TTL) String() string {
	return fmt.Sprintf("%d%c", t.Count, t.Unit)
}

// Snapshot is the decoded form of an owned snapshot or bookmark name.
type Snapshot struct {
	Dataset   string
	Host      string
	CreatedAt time.Time
	TTL       TTL
}

// Encode formats the name part after @ (or # for bookmarks).
func Encode(host string, at time.Time, ttl TTL) string {
	stamp := strings.ReplaceAll(at.Format(timeLayout), "+", "p")
	return fmt.Sprintf("%s%s_%s--%s", Prefix, host, stamp, ttl)
}

// Parse decodes a full snapshot (dataset@name) or bookmark
// (dataset#name) into its typed record. Returns ErrMalformed for
// anything zap did not create.
func Parse(full string) (*Snapshot, error) {
	sep := strings.IndexAny(full, "@#")
	if sep <= 0 || sep == len(full)-1 {
		return nil, fmt.Errorf("%q: %w", full, ErrMalformed)
	}
	dataset, part := full[:sep], full[sep+1:]

	m := namePattern.FindStringSubmatch(part)
	if m == nil {
		return nil, fmt.Errorf("%q: %w", full, ErrMalformed)
	}

	stamp := strings.ReplaceAll(m[2], "p", "+")
	createdAt, err := time.Parse(timeLayout, stamp)
	if err != nil {
		return nil, fmt.Errorf("%q: bad timestamp: %w", full, ErrMalformed)
	}

	ttl, err := ParseTTL(m[3] + m[4])
	if err != nil {
		return nil, fmt.Errorf("%q: %w", full, ErrMalformed)
	}

	return &Snapshot{
		Dataset:   dataset,
		Host:      m[1],
		CreatedAt: createdAt,
		TTL:       ttl,
	}, nil
}

// Name returns the encoded part after the separator.
func (s *Snapshot) Name() string {
	return Encode(s.Host, s.CreatedAt, s.TTL)
}

// String returns the full snapshot name, dataset@ZAP_...
func (s *Snapshot) String() string {
	return s.Dataset + "@" + s.Name()
}

// Bookmark returns the bookmark name covering the same point in time.
func (s *Snapshot) Bookmark() string {
	return s.Dataset + "#" + s.Name()
}

// Pool returns the top-level pool the dataset belongs to.
func (s *Snapshot) Pool() string {
	if i := strings.IndexByte(s.Dataset, '/'); i >= 0 {
		return s.Dataset[:i]
	}
	return s.Dataset
}

func (s *Snapshot) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.TTL.Duration())
}

// Expired reports whether now is strictly past the expiration instant.
func (s *Snapshot) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt())
}
