// Package version parses free-form version tokens into totally ordered keys.
//
// Archive mirrors name release folders inconsistently: dotted numbers
// ("24.04.1"), date stamps ("20240314", "2024.12.01"), and the occasional
// word ("current"). Ranking folders requires a comparison that works across
// all of them without ever failing, so parsing degrades to an opaque key
// that sorts after everything parseable.
package version

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the parsed representation of a version token.
type Kind int

const (
	// KindOpaque marks tokens that match no known format. Opaque keys
	// compare equal to each other and older than every other kind.
	KindOpaque Kind = iota
	// KindDate marks calendar-date tokens such as "20240314" or "2024.12.01".
	KindDate
	// KindTuple marks dotted-integer tokens such as "24.04.1".
	KindTuple
)

// Key is the comparable form of a version token.
type Key struct {
	Kind  Kind
	Parts []int     // populated for KindTuple
	Date  time.Time // populated for KindDate
	Raw   string
}

var (
	tupleRe     = regexp.MustCompile(`^\d+(\.\d+)*$`)
	compactDate = regexp.MustCompile(`^\d{8}$`)
	dottedDate  = regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}$`)
	dashedDate  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthDate   = regexp.MustCompile(`^\d{4}\.\d{2}$`)
)

// Parse converts a raw folder or file token into a Key. It never fails:
// unknown formats yield an opaque key that sorts last.
func Parse(token string) Key {
	trimmed := strings.TrimSpace(strings.TrimSuffix(token, "/"))
	if trimmed == "" {
		return Key{Kind: KindOpaque, Raw: token}
	}

	if d, ok := parseDate(trimmed); ok {
		return Key{Kind: KindDate, Date: d, Raw: trimmed}
	}

	if tupleRe.MatchString(trimmed) {
		fields := strings.Split(trimmed, ".")
		parts := make([]int, 0, len(fields))
		for _, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil {
				// A component too large for int still means the token is
				// numeric-looking; treat the whole token as opaque.
				return Key{Kind: KindOpaque, Raw: trimmed}
			}
			parts = append(parts, n)
		}
		return Key{Kind: KindTuple, Parts: parts, Raw: trimmed}
	}

	return Key{Kind: KindOpaque, Raw: trimmed}
}

func parseDate(token string) (time.Time, bool) {
	switch {
	case compactDate.MatchString(token):
		if d, err := time.Parse("20060102", token); err == nil {
			return d, true
		}
	case dottedDate.MatchString(token):
		if d, err := time.Parse("2006.01.02", token); err == nil {
			return d, true
		}
	case dashedDate.MatchString(token):
		if d, err := time.Parse("2006-01-02", token); err == nil {
			return d, true
		}
	case monthDate.MatchString(token):
		if d, err := time.Parse("2006.01", token); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
// The order is total: tuples compare lexicographically with missing
// components padded with zero, dates compare chronologically, and opaque
// keys sort before (older than) every parseable key.
func Compare(a, b Key) int {
	if a.Kind != b.Kind {
		// Opaque < Date < Tuple only matters for opaque-vs-parseable;
		// between date and tuple kinds the date wins ties by epoch so a
		// deterministic cross-kind order is still required.
		return compareInts(int(a.Kind), int(b.Kind))
	}
	switch a.Kind {
	case KindTuple:
		return compareTuples(a.Parts, b.Parts)
	case KindDate:
		switch {
		case a.Date.Before(b.Date):
			return -1
		case a.Date.After(b.Date):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// Less reports whether a is semantically older than b.
func Less(a, b Key) bool {
	return Compare(a, b) < 0
}

func compareTuples(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if c := compareInts(av, bv); c != 0 {
			return c
		}
	}
	return 0
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// DateHint returns the calendar date carried by a date-stamp key, or false
// for tuple and opaque keys. Callers use it as a release-date fallback when
// the listing row itself has no timestamp.
func (k Key) DateHint() (time.Time, bool) {
	if k.Kind == KindDate {
		return k.Date, true
	}
	return time.Time{}, false
}

// Parseable reports whether the key came from a recognized format. The
// orchestrator consults this together with its allow-opaque policy before
// spending a fetch on the folder.
func (k Key) Parseable() bool {
	return k.Kind != KindOpaque
}
