// Package slug builds short URL-safe identifiers and allocates them against a
// key namespace.
package slug

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxLength is the default slug length cap.
	MaxLength = 64
	// RandomLength is the length of fallback slugs.
	RandomLength = 12
	// DefaultMaxAttempts bounds the numeric suffix loop.
	DefaultMaxAttempts = 50
)

var (
	// ErrExhausted is returned when neither the candidate nor a regenerated
	// fallback produced a free identifier.
	ErrExhausted = errors.New("slug: identifier space exhausted")

	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
)

func asciiOnly(r rune) rune {
	if r > unicode.MaxASCII {
		return ' '
	}
	return r
}

// Transliterate decomposes s, drops combining marks and replaces every
// remaining non-ASCII rune with a space.
func Transliterate(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = norm.NFKD.String(s)
	}
	return strings.Map(asciiOnly, out)
}

// Normalize lowercases the ASCII transliteration of s and collapses every
// non-alphanumeric run into a single dash, capped at MaxLength.
func Normalize(s string) string {
	return NormalizeN(s, MaxLength)
}

// NormalizeN is Normalize with an explicit length cap.
func NormalizeN(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	out := nonAlnum.ReplaceAllString(strings.ToLower(Transliterate(s)), "-")
	out = strings.Trim(out, "-")
	if maxLen > 0 && len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "-")
	}
	return out
}

// Join slugs every part and joins the non-empty results with a dash.
func Join(parts ...string) string {
	var out []string
	for _, p := range parts {
		if s := Normalize(p); s != "" {
			out = append(out, s)
		}
	}
	return NormalizeN(strings.Join(out, "-"), MaxLength)
}

// Random returns a RandomLength lowercase hex slug.
func Random() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:RandomLength]
}

// Store reports whether a key is already present in the namespace.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Claimer is implemented by stores that can atomically reserve a key. When
// available, a slug is only returned after a successful claim.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Options configures Allocate.
type Options struct {
	Prefix      string
	Candidate   string
	Normalize   func(string) string
	Fallback    func() string
	MaxAttempts int
}

// Allocate returns a slug free under opts.Prefix. The candidate is tried
// first, then candidate-2, candidate-3 and so on up to MaxAttempts. When that
// is exhausted the base is regenerated once from Fallback and the suffix loop
// repeats. Without a Claimer the check is not atomic.
func Allocate(ctx context.Context, store Store, opts Options) (string, error) {
	if store == nil {
		return "", fmt.Errorf("slug allocate: store is required")
	}
	normalize := opts.Normalize
	if normalize == nil {
		normalize = Normalize
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = Random
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	base := normalize(opts.Candidate)
	if base == "" {
		base = normalize(fallback())
	}

	for round := 0; round < 2; round++ {
		candidate := base
		for attempt := 0; attempt <= maxAttempts && candidate != ""; attempt++ {
			free, err := isFree(ctx, store, opts.Prefix+candidate)
			if err != nil {
				return "", fmt.Errorf("slug allocate %s%s: %w", opts.Prefix, candidate, err)
			}
			if free {
				return candidate, nil
			}
			candidate = normalize(withSuffix(base, attempt+2))
		}
		base = normalize(fallback())
	}
	return "", ErrExhausted
}

// withSuffix appends -n to base, shortening base so the result still fits
// within MaxLength.
func withSuffix(base string, n int) string {
	suffix := fmt.Sprintf("-%d", n)
	if r := []rune(base); len(r)+len(suffix) > MaxLength {
		base = strings.TrimRight(string(r[:MaxLength-len(suffix)]), "-")
	}
	return base + suffix
}

func isFree(ctx context.Context, store Store, key string) (bool, error) {
	exists, err := store.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if c, ok := store.(Claimer); ok {
		return c.Claim(ctx, key)
	}
	return true, nil
}
