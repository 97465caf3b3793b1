package master

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Ref identifies a record by stable id, by legacy key, or by its
// (category, name) pair.
type Ref struct {
	ID        string `json:"id,omitempty"`
	LegacyKey string `json:"legacyKey,omitempty"`
	Category  string `json:"category,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Patch updates a record. Nil fields are left as they are.
type Patch struct {
	Category       *string     `json:"category,omitempty"`
	Name           *string     `json:"name,omitempty"`
	CanonicalName  *string     `json:"canonicalName,omitempty"`
	Status         *string     `json:"status,omitempty"`
	Classification *string     `json:"classification,omitempty"`
	MedicalField   *string     `json:"medicalField,omitempty"`
	SortGroup      *string     `json:"sortGroup,omitempty"`
	SortOrder      *float64    `json:"sortOrder,omitempty"`
	ClearSortOrder bool        `json:"clearSortOrder,omitempty"`
	Description    *string     `json:"description,omitempty"`
	Notes          *string     `json:"notes,omitempty"`
	ReferenceURL   *string     `json:"referenceUrl,omitempty"`
	Sources        *[]string   `json:"sources,omitempty"`
	LegacyAliases  []string    `json:"legacyAliases,omitempty"`
	Extensions     *Extensions `json:"extensions,omitempty"`
}

// ListOptions narrows List.
type ListOptions struct {
	ListFilter
	IncludeSimilar bool
}

// Service exposes the master data operations to the HTTP and CLI adapters.
type Service struct {
	store      *Store
	categories *CategoryRegistry
	thesaurus  *ThesaurusRegistry
	threshold  float64
	logger     zerolog.Logger
}

func NewService(store *Store, categories *CategoryRegistry, threshold float64, logger zerolog.Logger) *Service {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Service{
		store:      store,
		categories: categories,
		thesaurus:  NewThesaurusRegistry(store.kv, logger, store.timestamp),
		threshold:  threshold,
		logger:     logger.With().Str("component", "master_service").Logger(),
	}
}

// CreateOrTouch records a discovery of the contribution's triple.
func (s *Service) CreateOrTouch(ctx context.Context, c Contribution) (*Record, bool, error) {
	return s.store.GetOrCreate(ctx, c)
}

// Get resolves ref to a record.
func (s *Service) Get(ctx context.Context, t Type, ref Ref) (*Record, error) {
	if !t.Valid() {
		return nil, invalidValue("type", string(t), typeNames())
	}
	var hint *LegacyHint
	if ref.Category != "" && ref.Name != "" {
		hint = &LegacyHint{Category: ref.Category, Name: ref.Name}
	}
	switch {
	case strings.TrimSpace(ref.ID) != "":
		id := strings.TrimSpace(ref.ID)
		rec, err := s.store.GetByID(ctx, t, id)
		if errors.Is(err, ErrNotFound) && IsLegacyRecordKey(id) {
			return s.store.GetByLegacy(ctx, t, id, hint)
		}
		return rec, err
	case strings.TrimSpace(ref.LegacyKey) != "":
		return s.store.GetByLegacy(ctx, t, ref.LegacyKey, hint)
	case hint != nil:
		key := DefaultLegacyKey(t, ref.Category, ref.Name)
		if key == "" {
			return nil, ErrNotFound
		}
		return s.store.GetByLegacy(ctx, t, key, hint)
	}
	return nil, required("id")
}

// Resolve looks a legacy key up through the migrator.
func (s *Service) Resolve(ctx context.Context, t Type, legacyKey string, hint *LegacyHint) (*Record, error) {
	return s.store.GetByLegacy(ctx, t, legacyKey, hint)
}

// Update applies patch. Renaming keeps every legacy alias and adds the key
// derived from the new (category, name), so both keep resolving.
func (s *Service) Update(ctx context.Context, t Type, ref Ref, p Patch) (*Record, WriteResult, error) {
	rec, err := s.Get(ctx, t, ref)
	if err != nil {
		return nil, WriteResult{}, err
	}
	if err := p.apply(rec); err != nil {
		return nil, WriteResult{}, err
	}
	if key := DefaultLegacyKey(rec.Type, rec.Category, rec.Name); key != "" && !containsString(rec.LegacyAliases, key) {
		rec.LegacyAliases = append(rec.LegacyAliases, key)
	}
	res, err := s.store.Write(ctx, rec, WriteOptions{})
	if err != nil {
		return nil, res, err
	}
	return rec, res, nil
}

func (p Patch) apply(rec *Record) error {
	if p.Category != nil {
		if strings.TrimSpace(*p.Category) == "" {
			return required("category")
		}
		rec.Category = strings.TrimSpace(*p.Category)
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return required("name")
		}
		rec.Name = strings.TrimSpace(*p.Name)
	}
	if p.Status != nil {
		st, err := ParseStatus(*p.Status)
		if err != nil {
			return err
		}
		if st != "" {
			rec.Status = st
		}
	}
	assign := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	assign(&rec.CanonicalName, p.CanonicalName)
	assign(&rec.Classification, p.Classification)
	assign(&rec.MedicalField, p.MedicalField)
	assign(&rec.SortGroup, p.SortGroup)
	assign(&rec.Notes, p.Notes)
	assign(&rec.ReferenceURL, p.ReferenceURL)
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		rec.Description = d
		if d != "" {
			rec.DescriptionSamples = prependUnique(rec.DescriptionSamples, d)
		}
	}
	switch {
	case p.ClearSortOrder:
		rec.SortOrder = nil
	case p.SortOrder != nil:
		rec.SortOrder = cloneFloat(p.SortOrder)
	}
	if p.Sources != nil {
		rec.Sources = uniqueTrimmed(*p.Sources)
	}
	if len(p.LegacyAliases) > 0 {
		rec.LegacyAliases = append(rec.LegacyAliases, p.LegacyAliases...)
	}
	if p.Extensions != nil {
		rec.Extensions = p.Extensions.clone()
	}
	return nil
}

// Remove deletes the record ref points at.
func (s *Service) Remove(ctx context.Context, t Type, ref Ref) error {
	rec, err := s.Get(ctx, t, ref)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, t, rec.ID)
}

// List returns the records of t. With IncludeSimilar each returned record
// is annotated against every active record of the type, not only the
// filtered ones. Annotations are made on copies.
func (s *Service) List(ctx context.Context, t Type, opts ListOptions) ([]*Record, error) {
	if _, err := ParseStatus(string(opts.Status)); err != nil {
		return nil, err
	}
	recs, err := s.store.ListByType(ctx, t, opts.ListFilter)
	if err != nil || !opts.IncludeSimilar {
		return recs, err
	}

	pool := recs
	if opts.Status != "" || opts.Category != "" {
		pool, err = s.store.ListByType(ctx, t, ListFilter{OrganizationID: opts.OrganizationID})
		if err != nil {
			return nil, err
		}
	}
	annotated := make([]*Record, len(pool))
	byID := make(map[string]*Record, len(pool))
	for i, r := range pool {
		annotated[i] = r.Clone()
		byID[r.ID] = annotated[i]
	}
	FindSimilar(annotated, s.threshold)

	out := make([]*Record, len(recs))
	for i, r := range recs {
		c := r.Clone()
		if a, ok := byID[r.ID]; ok {
			c.SimilarMatches = a.SimilarMatches
		}
		out[i] = c
	}
	return out, nil
}

func (s *Service) AddExplanation(ctx context.Context, t Type, ref Ref, in ExplanationInput) (*Explanation, bool, error) {
	rec, err := s.Get(ctx, t, ref)
	if err != nil {
		return nil, false, err
	}
	exp, merged, err := AddExplanation(rec, in, s.store.timestamp())
	if err != nil {
		return nil, false, err
	}
	if _, err := s.store.Write(ctx, rec, WriteOptions{SkipAliasPointers: true}); err != nil {
		return nil, false, err
	}
	return exp, merged, nil
}

func (s *Service) UpdateExplanation(ctx context.Context, t Type, ref Ref, explanationID string, p ExplanationPatch) (*Explanation, error) {
	rec, err := s.Get(ctx, t, ref)
	if err != nil {
		return nil, err
	}
	exp, err := UpdateExplanation(rec, explanationID, p, s.store.timestamp())
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Write(ctx, rec, WriteOptions{SkipAliasPointers: true}); err != nil {
		return nil, err
	}
	return exp, nil
}

func (s *Service) DeleteExplanation(ctx context.Context, t Type, ref Ref, explanationID string) error {
	rec, err := s.Get(ctx, t, ref)
	if err != nil {
		return err
	}
	if err := RemoveExplanation(rec, explanationID); err != nil {
		return err
	}
	_, err = s.store.Write(ctx, rec, WriteOptions{SkipAliasPointers: true})
	return err
}

func (s *Service) ListCategories(ctx context.Context, t Type, orgID string) ([]string, error) {
	return s.categories.List(ctx, t, orgID)
}

func (s *Service) MutateCategories(ctx context.Context, t Type, orgID string, op CategoryOp, name, newName string) ([]string, error) {
	if !t.Valid() {
		return nil, invalidValue("type", string(t), typeNames())
	}
	return s.categories.Mutate(ctx, t, orgID, op, name, newName)
}

// SeedCategories writes the default category lists.
func (s *Service) SeedCategories(ctx context.Context, types []Type, force bool) ([]Type, error) {
	return s.categories.Seed(ctx, types, force)
}

// MigrateLegacy runs the legacy key sweep.
func (s *Service) MigrateLegacy(ctx context.Context, types []Type, opts CleanupOptions) (*MigrationSummary, error) {
	return s.store.Legacy().CleanupLegacy(ctx, types, opts)
}

func (s *Service) UpsertThesaurus(ctx context.Context, in ThesaurusInput) (*ThesaurusEntry, error) {
	return s.thesaurus.Upsert(ctx, in)
}

func (s *Service) ListThesaurus(ctx context.Context, f ThesaurusFilter) ([]*ThesaurusEntry, error) {
	return s.thesaurus.List(ctx, f)
}
