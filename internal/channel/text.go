package channel

import (
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxStrippedBody bounds bodies derived from HTML markup.
const MaxStrippedBody = 500

var (
	markupTag  = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n\s*\n+`)
)

// StripHTML removes tags, unescapes entities and truncates to MaxStrippedBody
// runes.
func StripHTML(s string) string {
	s = markupTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(strings.TrimSpace(s), "\n")
	return truncateRunes(s, MaxStrippedBody)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// resolveBody applies the body preference order: plain text, then rich
// blocks, then stripped HTML.
func resolveBody(text string, blocks []string, htmlBody string) string {
	if t := strings.TrimSpace(text); t != "" {
		return text
	}
	var parts []string
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			parts = append(parts, b)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if htmlBody != "" {
		return StripHTML(htmlBody)
	}
	return ""
}

// Times outside the int64 nanosecond range (years 1678 to 2262) cannot be
// stored and are rejected so callers fall back to the ingestion time.
var (
	minStorable = time.Unix(0, math.MinInt64).UTC()
	maxStorable = time.Unix(0, math.MaxInt64).UTC()
)

const (
	maxEpochSeconds = 9_200_000_000
	maxEpochMillis  = 9_200_000_000_000_000
)

func storable(t time.Time) (time.Time, bool) {
	if t.Before(minStorable) || t.After(maxStorable) {
		return time.Time{}, false
	}
	return t, true
}

// parseEpoch converts epoch seconds with an optional fraction ("1700000000.000200").
func parseEpoch(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	sec, frac, _ := strings.Cut(s, ".")
	whole, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		n, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		nanos = n
	}
	if whole <= -maxEpochSeconds || whole >= maxEpochSeconds {
		return time.Time{}, false
	}
	return storable(time.Unix(whole, nanos).UTC())
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// ParseTime accepts ISO-8601 strings, RFC 1123 dates and epoch seconds or
// milliseconds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return storable(t.UTC())
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return epochNumber(n)
	}
	return time.Time{}, false
}

// epochNumber treats values beyond year 5138 in seconds as milliseconds.
// Non-finite and unstorable values are rejected.
func epochNumber(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	if n > 1e11 {
		if n >= maxEpochMillis {
			return time.Time{}, false
		}
		return storable(time.UnixMilli(int64(n)).UTC())
	}
	if n <= -maxEpochSeconds {
		return time.Time{}, false
	}
	sec := int64(n)
	return storable(time.Unix(sec, int64((n-float64(sec))*1e9)).UTC())
}
