package master

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/medterm/masterdata/internal/platform/kv"
	"github.com/medterm/masterdata/internal/platform/metrics"
	"github.com/medterm/masterdata/internal/platform/worker"
	"github.com/medterm/masterdata/internal/slug"
	"github.com/medterm/masterdata/internal/textnorm"
)

// TaskSubmitter accepts background work without blocking.
type TaskSubmitter interface {
	Submit(task worker.Task) bool
}

// StoreConfig wires a Store. Repo may be nil, in which case the key-value
// projection is the only store.
type StoreConfig struct {
	Repo          Repository
	KV            kv.Store
	Cache         *ListCache
	Queue         TaskSubmitter
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	IDMaxAttempts int
	IDClaimTTL    time.Duration
	Now           func() time.Time
}

// Store is the master record store: a relational index with a key-value
// projection kept alongside it.
type Store struct {
	repo       Repository
	kv         kv.Store
	proj       projection
	cache      *ListCache
	queue      TaskSubmitter
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	idAttempts int
	claimTTL   time.Duration
	now        func() time.Time
	legacy     *Migrator
}

func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger.With().Str("component", "master_store").Logger()
	s := &Store{
		repo:       cfg.Repo,
		kv:         cfg.KV,
		proj:       projection{kv: cfg.KV, logger: logger},
		cache:      cfg.Cache,
		queue:      cfg.Queue,
		metrics:    cfg.Metrics,
		logger:     logger,
		idAttempts: cfg.IDMaxAttempts,
		claimTTL:   cfg.IDClaimTTL,
		now:        cfg.Now,
	}
	if s.idAttempts <= 0 {
		s.idAttempts = slug.DefaultMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.legacy = &Migrator{store: s}
	return s
}

// Legacy returns the legacy key migrator bound to this store.
func (s *Store) Legacy() *Migrator { return s.legacy }

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// GetByID prefers the relational row and falls back to the projection.
func (s *Store) GetByID(ctx context.Context, t Type, id string) (*Record, error) {
	if s.repo != nil {
		rec, err := s.repo.GetByID(ctx, t, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("type", string(t)).Str("id", id).Msg("relational lookup failed, using projection")
		}
	}
	rec, err := s.proj.getRecord(ctx, t, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("master get %s/%s: %w", t, id, err)
	}
	return rec, nil
}

// GetByLegacy resolves a legacy key through the migrator.
func (s *Store) GetByLegacy(ctx context.Context, t Type, legacyKey string, hint *LegacyHint) (*Record, error) {
	return s.legacy.Resolve(ctx, t, legacyKey, hint)
}

// GetOrCreate resolves the triple and bumps its usage count, or mints a new
// candidate record. Concurrent first discoveries of the same triple can
// produce two records; similarity review surfaces them.
func (s *Store) GetOrCreate(ctx context.Context, c Contribution) (*Record, bool, error) {
	if err := c.validate(); err != nil {
		return nil, false, err
	}
	legacyKey := DefaultLegacyKey(c.Type, c.Category, c.Name)
	if legacyKey == "" {
		return nil, false, &ValidationError{Field: "name", Message: "category and name normalize to empty"}
	}

	rec, err := s.GetByLegacy(ctx, c.Type, legacyKey, &LegacyHint{Category: c.Category, Name: c.Name})
	switch {
	case err == nil:
		rec.UsageCount++
		c.apply(rec)
		if _, err := s.Write(ctx, rec, WriteOptions{SkipAliasPointers: true}); err != nil {
			return nil, false, err
		}
		return rec, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	id, err := s.allocateID(ctx, c.Type, slug.Join(c.Category, c.Name))
	if err != nil {
		return nil, false, err
	}
	rec = &Record{
		ID:             id,
		Type:           c.Type,
		OrganizationID: c.OrganizationID,
		Category:       c.Category,
		Name:           c.Name,
		Status:         StatusCandidate,
		UsageCount:     1,
		LegacyKey:      legacyKey,
		LegacyAliases:  []string{legacyKey},
	}
	c.apply(rec)
	if _, err := s.Write(ctx, rec, WriteOptions{SkipAliasPointers: true}); err != nil {
		return nil, false, err
	}
	// The derived key must resolve immediately, even without the relational index.
	if err := s.proj.putPointer(ctx, pointerFor(rec, legacyKey)); err != nil {
		s.logger.Warn().Err(err).Str("legacy_key", legacyKey).Msg("legacy pointer write failed")
	}
	s.metrics.IncCreated(string(c.Type))
	return rec, true, nil
}

// idSpace adapts the store to the slug allocator for one type.
type idSpace struct {
	s *Store
	t Type
}

func (sp idSpace) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := sp.s.kv.Get(ctx, key); err == nil {
		return true, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		return false, err
	}
	if sp.s.repo == nil {
		return false, nil
	}
	id := strings.TrimPrefix(key, recordPrefix(sp.t))
	_, err := sp.s.repo.GetByID(ctx, sp.t, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		// An unreachable index must not block allocation; the projection check stands.
		sp.s.logger.Warn().Err(err).Str("key", key).Msg("relational id check failed")
		return false, nil
	}
}

func (sp idSpace) Claim(ctx context.Context, key string) (bool, error) {
	if sp.s.claimTTL <= 0 {
		return true, nil
	}
	return sp.s.kv.PutIfAbsent(ctx, claimNamespace+key, []byte("1"), sp.s.claimTTL)
}

func (s *Store) allocateID(ctx context.Context, t Type, candidate string) (string, error) {
	id, err := slug.Allocate(ctx, idSpace{s: s, t: t}, slug.Options{
		Prefix:      recordPrefix(t),
		Candidate:   candidate,
		MaxAttempts: s.idAttempts,
	})
	if err != nil {
		return "", fmt.Errorf("allocate %s id: %w", t, err)
	}
	return id, nil
}

// prepare validates rec and recomputes every derived field.
func (s *Store) prepare(rec *Record) error {
	if !rec.Type.Valid() {
		return invalidValue("type", string(rec.Type), typeNames())
	}
	if rec.ID == "" {
		return required("id")
	}
	rec.Category = strings.TrimSpace(rec.Category)
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.Category == "" {
		return required("category")
	}
	if rec.Name == "" {
		return required("name")
	}
	if _, err := ParseStatus(string(rec.Status)); err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = StatusCandidate
	}

	rec.LegacyKey = strings.TrimSpace(rec.LegacyKey)
	aliases := rec.LegacyAliases
	if rec.LegacyKey != "" {
		aliases = append([]string{rec.LegacyKey}, aliases...)
	}
	rec.LegacyAliases = uniqueTrimmed(aliases)
	rec.ComparableKey = ComparableKey(rec.Type, rec.Category, rec.Name)
	rec.NormalizedName = textnorm.Segment(rec.Name)
	rec.NormalizedCategory = textnorm.Segment(rec.Category)
	rec.Sources = uniqueTrimmed(rec.Sources)
	rec.DescriptionSamples = uniqueTrimmed(rec.DescriptionSamples)
	rec.Extensions = rec.Extensions.forType(rec.Type)
	rec.SimilarMatches = nil
	if rec.UsageCount < 0 {
		rec.UsageCount = 0
	}

	now := s.timestamp()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		rec.UpdatedAt = rec.CreatedAt
	}
	return nil
}

// Write persists rec to the relational index and the projection. A failure
// of one store is logged and reported as Degraded; only a failure of both
// fails the call. Alias pointers are written in the background unless
// skipped.
func (s *Store) Write(ctx context.Context, rec *Record, opts WriteOptions) (WriteResult, error) {
	if err := s.prepare(rec); err != nil {
		return WriteResult{}, err
	}

	var res WriteResult
	var relErr error
	if s.repo != nil {
		if relErr = s.repo.Upsert(ctx, rec); relErr != nil {
			res.Degraded = true
			s.metrics.IncDegraded(string(rec.Type), "relational")
			s.logger.Warn().Err(relErr).Str("type", string(rec.Type)).Str("id", rec.ID).
				Bool("degraded", true).Msg("relational write failed, continuing with projection")
		}
	}

	if err := s.proj.putRecord(ctx, rec); err != nil {
		if s.repo == nil || relErr != nil {
			return res, fmt.Errorf("master write %s/%s: %w", rec.Type, rec.ID, err)
		}
		res.Degraded = true
		s.metrics.IncDegraded(string(rec.Type), "kv")
		s.logger.Warn().Err(err).Str("type", string(rec.Type)).Str("id", rec.ID).
			Bool("degraded", true).Msg("projection write failed")
	}

	if !opts.SkipAliasPointers && len(rec.LegacyAliases) > 0 {
		s.schedulePointers(ctx, rec.Clone())
	}
	s.cache.Invalidate(ctx, rec.Type)
	s.metrics.IncWrite(string(rec.Type))
	return res, nil
}

func (s *Store) writePointers(ctx context.Context, rec *Record) error {
	var errs []error
	for _, alias := range rec.LegacyAliases {
		if err := s.proj.putPointer(ctx, pointerFor(rec, alias)); err != nil {
			errs = append(errs, fmt.Errorf("pointer %s: %w", alias, err))
		}
	}
	return errors.Join(errs...)
}

// schedulePointers hands the pointer writes to the background queue. When
// there is no queue or it is full they run inline before Write returns.
func (s *Store) schedulePointers(ctx context.Context, rec *Record) {
	task := worker.Task{
		Name: "legacy_pointers:" + string(rec.Type) + ":" + rec.ID,
		Run: func(ctx context.Context) error {
			return s.writePointers(ctx, rec)
		},
	}
	if s.queue != nil && s.queue.Submit(task) {
		return
	}
	if err := task.Run(ctx); err != nil {
		s.logger.Error().Err(err).Str("type", string(rec.Type)).Str("id", rec.ID).Msg("legacy pointer write failed")
	}
}

// Delete removes the record, its alias rows and the pointers of every alias.
// A relational failure fails the call and leaves both stores untouched.
func (s *Store) Delete(ctx context.Context, t Type, id string) error {
	rec, err := s.GetByID(ctx, t, id)
	if err != nil {
		return err
	}

	// A surviving relational row would resolve again, so its failure aborts
	// the delete before the projection is touched.
	if s.repo != nil {
		if err := s.repo.Delete(ctx, t, id); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("master delete %s/%s: %w", t, id, err)
		}
	}
	if err := s.proj.deleteRecord(ctx, t, id); err != nil {
		return fmt.Errorf("master delete %s/%s: %w", t, id, err)
	}
	for _, alias := range rec.LegacyAliases {
		if err := s.proj.deletePointer(ctx, alias); err != nil {
			s.logger.Warn().Err(err).Str("legacy_key", alias).Msg("legacy pointer delete failed")
		}
	}
	s.cache.Invalidate(ctx, t)
	return nil
}

// ListByType returns the records of a type ordered by sortOrder (nulls
// last), sortGroup and name under Japanese collation. With an organization
// filter, that organization's records come first, then global ones.
func (s *Store) ListByType(ctx context.Context, t Type, f ListFilter) ([]*Record, error) {
	if !t.Valid() {
		return nil, invalidValue("type", string(t), typeNames())
	}
	start := time.Now()
	if recs, ok := s.cache.Get(ctx, t, f); ok {
		s.metrics.ObserveList("cache", start)
		return recs, nil
	}

	var recs []*Record
	source := "relational"
	var err error
	if s.repo != nil {
		recs, err = s.repo.List(ctx, t, f)
		if err != nil {
			s.logger.Warn().Err(err).Str("type", string(t)).Msg("relational list failed, scanning projection")
		}
	}
	if s.repo == nil || err != nil {
		source = "kv"
		all, err := s.proj.listRecords(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("master list %s: %w", t, err)
		}
		recs = filterRecords(all, f)
	}

	sortRecords(recs, f.OrganizationID)
	s.cache.Set(ctx, t, f, recs)
	s.metrics.ObserveList(source, start)
	return recs, nil
}

func filterRecords(all []*Record, f ListFilter) []*Record {
	out := make([]*Record, 0, len(all))
	for _, r := range all {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		if r.OrganizationID != "" && r.OrganizationID != f.OrganizationID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// sortRecords orders records in place. Collators are not safe for
// concurrent use, so each call builds its own.
func sortRecords(recs []*Record, orgID string) {
	col := collate.New(language.Japanese)
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if orgID != "" {
			ao, bo := a.OrganizationID == orgID, b.OrganizationID == orgID
			if ao != bo {
				return ao
			}
		}
		switch {
		case a.SortOrder != nil && b.SortOrder == nil:
			return true
		case a.SortOrder == nil && b.SortOrder != nil:
			return false
		case a.SortOrder != nil && b.SortOrder != nil && *a.SortOrder != *b.SortOrder:
			return *a.SortOrder < *b.SortOrder
		}
		if c := col.CompareString(a.SortGroup, b.SortGroup); c != 0 {
			return c < 0
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})
}
