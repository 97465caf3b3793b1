package master

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/medterm/masterdata/internal/platform/kv"
	"github.com/medterm/masterdata/internal/slug"
)

// LegacyHint carries the caller's (category, name) so a renamed record can
// still be found through its comparable key.
type LegacyHint struct {
	Category string
	Name     string
}

// Migrator resolves legacy composite keys to stable records and converts
// unmigrated legacy payloads in place.
type Migrator struct {
	store *Store
}

// Resolution steps, in the order they are attempted.
const (
	stepLegacyKey     = "legacy_key"
	stepAlias         = "alias"
	stepComparableKey = "comparable_key"
	stepPointer       = "pointer"
	stepRawPointer    = "raw_pointer"
	stepPromoted      = "promoted"
	stepAttached      = "attached"
)

// Resolve walks the fallback chain for legacyKey. Each step runs only when
// the previous ones found nothing. A raw full payload found at the end is
// promoted to a stable record.
func (m *Migrator) Resolve(ctx context.Context, t Type, legacyKey string, hint *LegacyHint) (*Record, error) {
	if !t.Valid() {
		return nil, invalidValue("type", string(t), typeNames())
	}
	legacyKey = strings.TrimSpace(legacyKey)
	if legacyKey == "" {
		return nil, required("legacyKey")
	}

	rec, step, err := m.find(ctx, t, legacyKey, hint)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		m.store.metrics.IncResolved(step)
		return rec, nil
	}
	if !IsLegacyRecordKey(legacyKey) {
		return nil, ErrNotFound
	}

	raw, err := m.store.kv.Get(ctx, legacyKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read legacy key %s: %w", legacyKey, err)
	}
	kind, payload, err := classifyLegacy(raw)
	if err != nil {
		return nil, fmt.Errorf("legacy key %s: %w", legacyKey, err)
	}
	switch kind {
	case legacyPointerValue:
		rec, err := m.finalizePointer(ctx, t, legacyKey, payload)
		if err != nil {
			return nil, err
		}
		m.store.metrics.IncResolved(stepRawPointer)
		return rec, nil
	case legacyRecordValue:
		owner, err := m.owner(ctx, t, legacyKey, payload)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			if err := m.attach(ctx, owner, legacyKey); err != nil {
				return nil, err
			}
			m.store.metrics.IncResolved(stepAttached)
			return owner, nil
		}
		rec, err := m.promote(ctx, t, legacyKey, payload)
		if err != nil {
			return nil, err
		}
		m.store.metrics.IncResolved(stepPromoted)
		return rec, nil
	}
	return nil, ErrNotFound
}

// owner finds a record that already holds the identity of a raw payload,
// either under the raw key or under the key derived from its category and
// name.
func (m *Migrator) owner(ctx context.Context, t Type, legacyKey string, p *legacyPayload) (*Record, error) {
	hint := p.hint(legacyKey)
	rec, _, err := m.find(ctx, t, legacyKey, hint)
	if err != nil || rec != nil || hint == nil {
		return rec, err
	}
	dk := DefaultLegacyKey(t, hint.Category, hint.Name)
	if dk == "" || dk == legacyKey {
		return nil, nil
	}
	rec, _, err = m.find(ctx, t, dk, hint)
	return rec, err
}

type lookupStep struct {
	step string
	fn   func() (*Record, error)
}

// find runs the lookup steps that never write. A relational failure skips
// the remaining relational steps.
func (m *Migrator) find(ctx context.Context, t Type, legacyKey string, hint *LegacyHint) (*Record, string, error) {
	s := m.store
	if s.repo != nil {
		lookups := []lookupStep{
			{stepLegacyKey, func() (*Record, error) { return s.repo.GetByLegacyKey(ctx, t, legacyKey) }},
			{stepAlias, func() (*Record, error) { return s.repo.GetByAlias(ctx, t, legacyKey) }},
		}
		if hint != nil {
			if ck := ComparableKey(t, hint.Category, hint.Name); ck != "" {
				lookups = append(lookups, lookupStep{stepComparableKey, func() (*Record, error) {
					return s.repo.GetByComparableKey(ctx, t, ck)
				}})
			}
		}
		for _, l := range lookups {
			rec, err := l.fn()
			if err == nil {
				return rec, l.step, nil
			}
			if !errors.Is(err, ErrNotFound) {
				s.logger.Warn().Err(err).Str("type", string(t)).Str("legacy_key", legacyKey).
					Str("step", l.step).Msg("relational legacy lookup failed")
				break
			}
		}
	}

	ptr, err := s.proj.getPointer(ctx, legacyKey)
	switch {
	case err == nil:
		pt := t
		if ptr.Type.Valid() {
			pt = ptr.Type
		}
		rec, err := s.GetByID(ctx, pt, ptr.ID)
		if err == nil {
			return rec, stepPointer, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
		s.logger.Debug().Str("legacy_key", legacyKey).Str("id", ptr.ID).Msg("dangling legacy pointer")
	case errors.Is(err, ErrNotFound):
	default:
		s.logger.Warn().Err(err).Str("legacy_key", legacyKey).Msg("legacy pointer unreadable")
	}
	return nil, "", nil
}

// finalizePointer moves a pointer stored under the raw key into the pointer
// namespace and removes the raw key.
func (m *Migrator) finalizePointer(ctx context.Context, t Type, legacyKey string, p *legacyPayload) (*Record, error) {
	s := m.store
	pt := t
	if typ := Type(p.Type); typ.Valid() {
		pt = typ
	}
	rec, err := s.GetByID(ctx, pt, p.ID)
	if err != nil {
		return nil, err
	}
	if err := s.proj.putPointer(ctx, pointerFor(rec, legacyKey)); err != nil {
		return nil, fmt.Errorf("write legacy pointer %s: %w", legacyKey, err)
	}
	if err := s.kv.Delete(ctx, legacyKey); err != nil {
		s.logger.Warn().Err(err).Str("legacy_key", legacyKey).Msg("raw legacy pointer delete failed")
	}
	return rec, nil
}

// Promote converts a raw legacy payload into a stable record. The raw key is
// deleted only after the record and its pointers are written.
func (m *Migrator) Promote(ctx context.Context, t Type, legacyKey string, raw []byte) (*Record, error) {
	if !t.Valid() {
		return nil, invalidValue("type", string(t), typeNames())
	}
	kind, payload, err := classifyLegacy(raw)
	if err != nil {
		return nil, fmt.Errorf("legacy key %s: %w", legacyKey, err)
	}
	if kind != legacyRecordValue {
		return nil, fmt.Errorf("legacy key %s: not a record payload", legacyKey)
	}
	return m.promote(ctx, t, legacyKey, payload)
}

func (m *Migrator) promote(ctx context.Context, t Type, legacyKey string, p *legacyPayload) (*Record, error) {
	s := m.store
	rec, err := p.record(t, legacyKey)
	if err != nil {
		return nil, fmt.Errorf("promote %s: %w", legacyKey, err)
	}
	rec.ID, err = s.allocateID(ctx, t, slug.Join(rec.Category, rec.Name))
	if err != nil {
		return nil, fmt.Errorf("promote %s: %w", legacyKey, err)
	}
	if _, err := s.Write(ctx, rec, WriteOptions{SkipAliasPointers: true}); err != nil {
		return nil, fmt.Errorf("promote %s: %w", legacyKey, err)
	}
	if err := s.writePointers(ctx, rec); err != nil {
		return nil, fmt.Errorf("promote %s: %w", legacyKey, err)
	}
	if err := s.kv.Delete(ctx, legacyKey); err != nil {
		s.logger.Warn().Err(err).Str("legacy_key", legacyKey).Msg("raw legacy key delete failed after promotion")
	}
	s.metrics.IncPromotion(string(t))
	s.logger.Info().Str("type", string(t)).Str("id", rec.ID).Str("legacy_key", legacyKey).Msg("promoted legacy master record")
	return rec, nil
}

// attach records legacyKey as an alias of an existing record and removes
// the raw key.
func (m *Migrator) attach(ctx context.Context, rec *Record, legacyKey string) error {
	s := m.store
	if !containsString(rec.LegacyAliases, legacyKey) {
		rec.LegacyAliases = append(rec.LegacyAliases, legacyKey)
		if _, err := s.Write(ctx, rec, WriteOptions{SkipAliasPointers: true}); err != nil {
			return err
		}
	}
	if err := s.proj.putPointer(ctx, pointerFor(rec, legacyKey)); err != nil {
		return fmt.Errorf("write legacy pointer %s: %w", legacyKey, err)
	}
	return s.kv.Delete(ctx, legacyKey)
}

type legacyKind int

const (
	legacyEmptyValue legacyKind = iota
	legacyPointerValue
	legacyRecordValue
)

// classifyLegacy tells an empty value, a pointer ({"legacy":true,"id":...})
// and a full record payload apart.
func classifyLegacy(raw []byte) (legacyKind, *legacyPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("{}")) {
		return legacyEmptyValue, nil, nil
	}
	var p legacyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, nil, fmt.Errorf("decode legacy payload: %w", err)
	}
	if p.Legacy && strings.TrimSpace(p.ID) != "" {
		p.ID = strings.TrimSpace(p.ID)
		return legacyPointerValue, &p, nil
	}
	return legacyRecordValue, &p, nil
}

// legacyPayload accepts both the camelCase and snake_case spellings older
// writers used.
type legacyPayload struct {
	Legacy bool   `json:"legacy"`
	ID     string `json:"id"`
	Type   string `json:"type"`

	Category            string              `json:"category"`
	Name                string              `json:"name"`
	CanonicalName       string              `json:"canonicalName"`
	CanonicalNameSnake  string              `json:"canonical_name"`
	Status              string              `json:"status"`
	Classification      string              `json:"classification"`
	MedicalField        string              `json:"medicalField"`
	SortGroup           string              `json:"sortGroup"`
	SortOrder           *flexFloat          `json:"sortOrder"`
	Desc                string              `json:"desc"`
	Description         string              `json:"description"`
	DescSamples         []string            `json:"descSamples"`
	DescSamplesSnake    []string            `json:"desc_samples"`
	Notes               string              `json:"notes"`
	ReferenceURL        string              `json:"referenceUrl"`
	Count               flexFloat           `json:"count"`
	Sources             []string            `json:"sources"`
	LegacyAliases       []string            `json:"legacyAliases"`
	Explanations        []legacyExplanation `json:"explanations"`
	OrganizationID      string              `json:"organizationId"`
	OrganizationIDSnake string              `json:"organization_id"`
	CreatedAt           flexTime            `json:"createdAt"`
	CreatedAtSnake      flexTime            `json:"created_at"`

	PatientLabel      string   `json:"patientLabel"`
	Synonyms          []string `json:"synonyms"`
	BodySiteRefs      []string `json:"bodySiteRefs"`
	SeverityTags      []string `json:"severityTags"`
	ICD10             []string `json:"icd10"`
	DefaultServices   []string `json:"defaultServices"`
	DefaultTests      []string `json:"defaultTests"`
	ThesaurusRefs     []string `json:"thesaurusRefs"`
	AnatomicalSystem  string   `json:"anatomicalSystem"`
	Laterality        string   `json:"laterality"`
	ParentKey         string   `json:"parentKey"`
	Issuer            string   `json:"issuer"`
	QualificationCode string   `json:"qualificationCode"`
	Code              string   `json:"code"`
	Unit              string   `json:"unit"`
}

type legacyExplanation struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Status    string   `json:"status"`
	Audience  string   `json:"audience"`
	Context   string   `json:"context"`
	Source    string   `json:"source"`
	CreatedAt flexTime `json:"createdAt"`
	UpdatedAt flexTime `json:"updatedAt"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// identity is the payload's (category, name), falling back to the segments
// of the legacy key.
func (p *legacyPayload) identity(legacyKey string) (string, string) {
	category := strings.TrimSpace(p.Category)
	name := strings.TrimSpace(p.Name)
	if parts, ok := ParseLegacyKey(legacyKey); ok {
		category = firstNonEmpty(category, parts.Category)
		name = firstNonEmpty(name, parts.Name)
	}
	return category, name
}

func (p *legacyPayload) hint(legacyKey string) *LegacyHint {
	category, name := p.identity(legacyKey)
	if category == "" || name == "" {
		return nil
	}
	return &LegacyHint{Category: category, Name: name}
}

// record builds the promoted record.
func (p *legacyPayload) record(t Type, legacyKey string) (*Record, error) {
	category, name := p.identity(legacyKey)
	if category == "" || name == "" {
		return nil, &ValidationError{Field: "payload", Message: "legacy payload has no category or name"}
	}

	status, err := ParseStatus(p.Status)
	if err != nil || status == "" {
		status = StatusCandidate
	}
	rec := &Record{
		Type:               t,
		OrganizationID:     firstNonEmpty(p.OrganizationID, p.OrganizationIDSnake),
		Category:           category,
		Name:               name,
		CanonicalName:      firstNonEmpty(p.CanonicalName, p.CanonicalNameSnake),
		Status:             status,
		Classification:     strings.TrimSpace(p.Classification),
		MedicalField:       strings.TrimSpace(p.MedicalField),
		SortGroup:          strings.TrimSpace(p.SortGroup),
		Description:        firstNonEmpty(p.Desc, p.Description),
		DescriptionSamples: uniqueTrimmed(append(cloneStrings(p.DescSamples), p.DescSamplesSnake...)),
		Notes:              p.Notes,
		ReferenceURL:       strings.TrimSpace(p.ReferenceURL),
		UsageCount:         int(math.Max(0, float64(p.Count))),
		Sources:            uniqueTrimmed(p.Sources),
		LegacyKey:          legacyKey,
		LegacyAliases:      uniqueTrimmed(append([]string{legacyKey}, p.LegacyAliases...)),
		Extensions:         p.extensions(t),
	}
	if p.SortOrder != nil {
		v := float64(*p.SortOrder)
		rec.SortOrder = &v
	}
	if t == TypeQual && rec.Classification == "" {
		rec.Classification = DefaultQualClassification
	}
	// getOrCreate derives this key, so it must reach the promoted record too.
	if dk := DefaultLegacyKey(t, category, name); dk != "" && !containsString(rec.LegacyAliases, dk) {
		rec.LegacyAliases = append(rec.LegacyAliases, dk)
	}
	if c := p.CreatedAt.Time(); !c.IsZero() {
		rec.CreatedAt = c
	} else if c := p.CreatedAtSnake.Time(); !c.IsZero() {
		rec.CreatedAt = c
	}

	for _, le := range p.Explanations {
		text := strings.TrimSpace(le.Text)
		if text == "" || findExplanationText(rec, text) >= 0 {
			continue
		}
		es, err := parseExplanationStatus(le.Status)
		if err != nil || es == "" {
			es = ExplanationDraft
		}
		e := Explanation{
			ID:        firstNonEmpty(le.ID, newExplanationID()),
			Text:      text,
			Status:    es,
			Audience:  strings.TrimSpace(le.Audience),
			Context:   strings.TrimSpace(le.Context),
			Source:    strings.TrimSpace(le.Source),
			CreatedAt: le.CreatedAt.Time(),
			UpdatedAt: le.UpdatedAt.Time(),
		}
		if e.UpdatedAt.Before(e.CreatedAt) {
			e.UpdatedAt = e.CreatedAt
		}
		rec.Explanations = append(rec.Explanations, e)
	}
	syncDescription(rec)
	return rec, nil
}

func findExplanationText(rec *Record, text string) int {
	for i := range rec.Explanations {
		if rec.Explanations[i].Text == text {
			return i
		}
	}
	return -1
}

func (p *legacyPayload) extensions(t Type) Extensions {
	var ext Extensions
	switch t {
	case TypeSymptom:
		ext.Symptom = &SymptomAttrs{
			PatientLabel:    p.PatientLabel,
			Synonyms:        p.Synonyms,
			BodySiteRefs:    p.BodySiteRefs,
			SeverityTags:    p.SeverityTags,
			ICD10:           p.ICD10,
			DefaultServices: p.DefaultServices,
			DefaultTests:    p.DefaultTests,
			ThesaurusRefs:   p.ThesaurusRefs,
		}
	case TypeBodySite:
		ext.BodySite = &BodySiteAttrs{
			PatientLabel:     p.PatientLabel,
			AnatomicalSystem: p.AnatomicalSystem,
			Laterality:       Laterality(p.Laterality),
			ParentKey:        p.ParentKey,
			Synonyms:         p.Synonyms,
			ThesaurusRefs:    p.ThesaurusRefs,
		}
	case TypeQual:
		if p.Issuer != "" || p.QualificationCode != "" {
			ext.Qualification = &QualificationAttrs{Issuer: p.Issuer, QualificationCode: p.QualificationCode}
		}
	case TypeTest, TypeService:
		if p.Code != "" || p.Unit != "" || len(p.Synonyms) > 0 || len(p.DefaultTests) > 0 || len(p.DefaultServices) > 0 {
			ext.Clinical = &ClinicalAttrs{
				Code:            p.Code,
				Unit:            p.Unit,
				Synonyms:        p.Synonyms,
				DefaultTests:    p.DefaultTests,
				DefaultServices: p.DefaultServices,
			}
		}
	}
	return ext
}

// flexFloat decodes a JSON number or a numeric string. Anything else is 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = 0
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		*f = flexFloat(v)
	}
	return nil
}

// flexTime decodes unix seconds, unix milliseconds or an RFC 3339 string.
// Unparseable values decode to the zero time.
type flexTime struct{ t time.Time }

func (f flexTime) Time() time.Time { return f.t }

func (f *flexTime) UnmarshalJSON(b []byte) error {
	f.t = time.Time{}
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		f.t = ts.UTC()
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 {
		return nil
	}
	if n >= 1e12 {
		f.t = time.UnixMilli(int64(n)).UTC()
	} else {
		f.t = time.Unix(int64(n), 0).UTC()
	}
	return nil
}

// CleanupOptions tunes the legacy sweep.
type CleanupOptions struct {
	DryRun      bool `json:"dryRun"`
	SampleLimit int  `json:"sampleLimit"`
	BatchSize   int  `json:"batchSize"`
}

// DefaultSampleLimit caps audit samples when no limit is given.
const DefaultSampleLimit = 20

// Sweep actions.
const (
	ActionDeleteEmpty     = "delete-empty"
	ActionFinalizePointer = "finalize-pointer"
	ActionPromote         = "promote"
	ActionAttach          = "attach"
)

type MigrationCounts struct {
	Scanned  int `json:"scanned"`
	Empty    int `json:"empty"`
	Pointers int `json:"pointers"`
	Promoted int `json:"promoted"`
	Attached int `json:"attached"`
	Failed   int `json:"failed"`
}

func (c *MigrationCounts) add(o MigrationCounts) {
	c.Scanned += o.Scanned
	c.Empty += o.Empty
	c.Pointers += o.Pointers
	c.Promoted += o.Promoted
	c.Attached += o.Attached
	c.Failed += o.Failed
}

type TypeSummary struct {
	Type Type `json:"type"`
	MigrationCounts
}

type MigrationSample struct {
	Type   Type   `json:"type"`
	Key    string `json:"key"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

type MigrationError struct {
	Type  Type   `json:"type"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

// MigrationSummary reports what a sweep did, or would do in dry-run mode.
type MigrationSummary struct {
	DryRun     bool              `json:"dryRun"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Types      []TypeSummary     `json:"types"`
	Totals     MigrationCounts   `json:"totals"`
	Samples    []MigrationSample `json:"samples"`
	Errors     []MigrationError  `json:"errors"`
}

func (s *MigrationSummary) sample(smp MigrationSample, limit int) {
	if len(s.Samples) < limit {
		s.Samples = append(s.Samples, smp)
	}
}

// CleanupLegacy sweeps every legacy category|name key of the given types.
// Empty values are deleted, raw pointers are moved to the pointer namespace
// and full payloads are promoted or attached to the record that already
// owns them. A failing key is recorded and skipped. In dry-run mode nothing
// is written.
func (m *Migrator) CleanupLegacy(ctx context.Context, types []Type, opts CleanupOptions) (*MigrationSummary, error) {
	if len(types) == 0 {
		types = Types
	}
	for _, t := range types {
		if !t.Valid() {
			return nil, invalidValue("types", string(t), typeNames())
		}
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = kv.DefaultListLimit
	}

	sum := &MigrationSummary{
		DryRun:    opts.DryRun,
		StartedAt: m.store.timestamp(),
		Samples:   []MigrationSample{},
		Errors:    []MigrationError{},
	}
	for _, t := range types {
		ts, err := m.cleanupType(ctx, t, opts, sum)
		if err != nil {
			return nil, err
		}
		sum.Types = append(sum.Types, ts)
		sum.Totals.add(ts.MigrationCounts)
	}
	sum.FinishedAt = m.store.timestamp()
	m.store.logger.Info().Bool("dry_run", opts.DryRun).Int("scanned", sum.Totals.Scanned).
		Int("promoted", sum.Totals.Promoted).Int("failed", sum.Totals.Failed).Msg("legacy cleanup finished")
	return sum, nil
}

func (m *Migrator) cleanupType(ctx context.Context, t Type, opts CleanupOptions, sum *MigrationSummary) (TypeSummary, error) {
	ts := TypeSummary{Type: t}
	var keys []string
	err := kv.ListAll(ctx, m.store.kv, recordPrefix(t), opts.BatchSize, func(key string) error {
		if IsLegacyRecordKey(key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return ts, fmt.Errorf("scan legacy keys of %s: %w", t, err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return ts, err
		}
		ts.Scanned++
		action, id, err := m.cleanupKey(ctx, t, key, opts.DryRun)
		if err != nil {
			ts.Failed++
			sum.Errors = append(sum.Errors, MigrationError{Type: t, Key: key, Error: err.Error()})
			m.store.logger.Warn().Err(err).Str("type", string(t)).Str("legacy_key", key).Msg("legacy key migration failed")
			continue
		}
		switch action {
		case "":
			continue
		case ActionDeleteEmpty:
			ts.Empty++
		case ActionFinalizePointer:
			ts.Pointers++
		case ActionPromote:
			ts.Promoted++
		case ActionAttach:
			ts.Attached++
		}
		sum.sample(MigrationSample{Type: t, Key: key, Action: action, ID: id}, opts.SampleLimit)
	}
	return ts, nil
}

func (m *Migrator) cleanupKey(ctx context.Context, t Type, key string, dryRun bool) (string, string, error) {
	s := m.store
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	kind, payload, err := classifyLegacy(raw)
	if err != nil {
		return "", "", err
	}

	switch kind {
	case legacyEmptyValue:
		if !dryRun {
			if err := s.kv.Delete(ctx, key); err != nil {
				return "", "", err
			}
		}
		return ActionDeleteEmpty, "", nil

	case legacyPointerValue:
		if dryRun {
			return ActionFinalizePointer, payload.ID, nil
		}
		rec, err := m.finalizePointer(ctx, t, key, payload)
		if err != nil {
			return "", "", err
		}
		return ActionFinalizePointer, rec.ID, nil
	}

	existing, err := m.owner(ctx, t, key, payload)
	if err != nil {
		return "", "", err
	}
	if existing != nil {
		if !dryRun {
			if err := m.attach(ctx, existing, key); err != nil {
				return "", "", err
			}
		}
		return ActionAttach, existing.ID, nil
	}
	if dryRun {
		if _, err := payload.record(t, key); err != nil {
			return "", "", err
		}
		return ActionPromote, "", nil
	}
	rec, err := m.promote(ctx, t, key, payload)
	if err != nil {
		return "", "", err
	}
	return ActionPromote, rec.ID, nil
}
