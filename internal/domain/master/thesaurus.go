package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/platform/kv"
	"github.com/medterm/masterdata/internal/textnorm"
)

// ThesaurusEntry groups spelling variants of one clinical term. Records
// point at entries through ThesaurusRefs, which hold the normalized term.
type ThesaurusEntry struct {
	Normalized string    `json:"normalized"`
	Term       string    `json:"term"`
	Variants   []string  `json:"variants,omitempty"`
	Context    []string  `json:"context,omitempty"`
	Locale     string    `json:"locale,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ThesaurusInput upserts an entry. Nil fields keep the stored value.
type ThesaurusInput struct {
	Term       string    `json:"term"`
	Normalized string    `json:"normalized"`
	Variants   *[]string `json:"variants,omitempty"`
	Context    *[]string `json:"context,omitempty"`
	Locale     *string   `json:"locale,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	Source     *string   `json:"source,omitempty"`
}

// ThesaurusFilter narrows List. Normalized selects a single entry; Term
// matches the term or any variant by substring; Context must match exactly.
type ThesaurusFilter struct {
	Normalized string
	Term       string
	Context    string
}

// ThesaurusRegistry stores entries under thesaurus:{normalized term}.
type ThesaurusRegistry struct {
	kv     kv.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewThesaurusRegistry(store kv.Store, logger zerolog.Logger, now func() time.Time) *ThesaurusRegistry {
	if now == nil {
		now = time.Now
	}
	return &ThesaurusRegistry{
		kv:     store,
		logger: logger.With().Str("component", "thesaurus").Logger(),
		now:    func() time.Time { return now().UTC() },
	}
}

func thesaurusKey(normalized string) string {
	return thesaurusNamespace + normalized
}

func (r *ThesaurusRegistry) get(ctx context.Context, normalized string) (*ThesaurusEntry, error) {
	raw, err := r.kv.Get(ctx, thesaurusKey(normalized))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("thesaurus get %s: %w", normalized, err)
	}
	var e ThesaurusEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.logger.Warn().Err(err).Str("normalized", normalized).Msg("undecodable thesaurus entry")
		return nil, ErrNotFound
	}
	return &e, nil
}

// Upsert creates or updates the entry keyed by the normalized form of
// Normalized, or of Term when Normalized is blank.
func (r *ThesaurusRegistry) Upsert(ctx context.Context, in ThesaurusInput) (*ThesaurusEntry, error) {
	term := strings.TrimSpace(in.Term)
	base := strings.TrimSpace(in.Normalized)
	if base == "" {
		base = term
	}
	normalized := textnorm.Segment(base)
	if normalized == "" {
		return nil, required("term")
	}

	now := r.now()
	e, err := r.get(ctx, normalized)
	switch {
	case errors.Is(err, ErrNotFound):
		e = &ThesaurusEntry{Normalized: normalized, CreatedAt: now}
	case err != nil:
		return nil, err
	}

	if term != "" {
		e.Term = term
	} else if e.Term == "" {
		e.Term = normalized
	}
	if in.Variants != nil {
		e.Variants = uniqueTrimmed(*in.Variants)
	}
	if in.Context != nil {
		e.Context = uniqueTrimmed(*in.Context)
	}
	if in.Locale != nil {
		e.Locale = strings.TrimSpace(*in.Locale)
	}
	if in.Notes != nil {
		e.Notes = strings.TrimSpace(*in.Notes)
	}
	if in.Source != nil {
		e.Source = strings.TrimSpace(*in.Source)
	}
	e.UpdatedAt = now

	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("thesaurus encode: %w", err)
	}
	if err := r.kv.Put(ctx, thesaurusKey(normalized), raw, 0); err != nil {
		return nil, fmt.Errorf("thesaurus put %s: %w", normalized, err)
	}
	return e, nil
}

// List returns the entries matching f ordered by normalized term.
func (r *ThesaurusRegistry) List(ctx context.Context, f ThesaurusFilter) ([]*ThesaurusEntry, error) {
	var entries []*ThesaurusEntry
	if n := textnorm.Segment(f.Normalized); n != "" {
		e, err := r.get(ctx, n)
		switch {
		case err == nil:
			entries = append(entries, e)
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	} else {
		err := kv.ListAll(ctx, r.kv, thesaurusNamespace, kv.DefaultListLimit, func(key string) error {
			e, err := r.get(ctx, strings.TrimPrefix(key, thesaurusNamespace))
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("thesaurus list: %w", err)
		}
	}

	out := make([]*ThesaurusEntry, 0, len(entries))
	term := textnorm.Segment(f.Term)
	ctxFilter := strings.TrimSpace(f.Context)
	for _, e := range entries {
		if term != "" && !e.matchesTerm(term) {
			continue
		}
		if ctxFilter != "" && !containsString(e.Context, ctxFilter) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Normalized < out[j].Normalized })
	return out, nil
}

func (e *ThesaurusEntry) matchesTerm(normalizedTerm string) bool {
	if strings.Contains(textnorm.Segment(e.Term), normalizedTerm) {
		return true
	}
	for _, v := range e.Variants {
		if strings.Contains(textnorm.Segment(v), normalizedTerm) {
			return true
		}
	}
	return false
}
