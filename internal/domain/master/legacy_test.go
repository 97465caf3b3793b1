package master

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medterm/masterdata/internal/platform/kv"
)

func putRaw(t *testing.T, env *testEnv, key, value string) {
	t.Helper()
	if err := env.kv.Store.Put(context.Background(), key, []byte(value), 0); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func TestMigrator_PromotesRawPayloadOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	key := "master:test:血液検査|CBC"
	putRaw(t, env, key, `{"category":"血液検査","name":"CBC","canonical_name":"全血球計算","desc":"血液の基本検査","count":"4","created_at":1700000000000}`)

	first, err := env.store.GetByLegacy(ctx, TypeTest, key, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != "cbc" {
		t.Errorf("expected id cbc, got %q", first.ID)
	}
	if first.LegacyKey != key || !containsString(first.LegacyAliases, key) {
		t.Errorf("expected legacy key %q in aliases %v", key, first.LegacyAliases)
	}
	if first.CanonicalName != "全血球計算" || first.Description != "血液の基本検査" || first.UsageCount != 4 {
		t.Errorf("payload fields not carried over: %+v", first)
	}
	if want := time.UnixMilli(1700000000000).UTC(); !first.CreatedAt.Equal(want) {
		t.Errorf("expected createdAt %v, got %v", want, first.CreatedAt)
	}
	if _, err := env.kv.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected raw key removed, got %v", err)
	}

	env.kv.reset()
	second, err := env.store.GetByLegacy(ctx, TypeTest, key, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected id %s, got %s", first.ID, second.ID)
	}
	if n := env.kv.mutations(); n != 0 {
		t.Errorf("expected no writes on the second lookup, got %d", n)
	}

	// The key derived from (category, name) now reaches the same record.
	rec, created, err := env.store.GetOrCreate(ctx, Contribution{Type: TypeTest, Category: "血液検査", Name: "CBC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || rec.ID != first.ID || rec.UsageCount != 5 {
		t.Errorf("expected existing record with usage 5, got created=%v id=%s usage=%d", created, rec.ID, rec.UsageCount)
	}
}

func TestMigrator_Promote_AlwaysKeepsLegacyKey(t *testing.T) {
	env := newTestEnv(t, nil)
	payloads := []string{
		`{"name":"CBC"}`,
		`{"category":"別分類","name":"CBC","legacyAliases":["master:test:x|y"]}`,
		`{"count":1}`,
	}
	for i, raw := range payloads {
		key := "master:test:血液検査|CBC"
		rec, err := env.store.Legacy().Promote(context.Background(), TypeTest, key, []byte(raw))
		if err != nil {
			t.Fatalf("payload %d: unexpected error: %v", i, err)
		}
		if rec.LegacyKey != key || !containsString(rec.LegacyAliases, key) {
			t.Errorf("payload %d: legacy key missing from aliases %v", i, rec.LegacyAliases)
		}
	}
}

func TestMigrator_Promote_RejectsPointer(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.store.Legacy().Promote(context.Background(), TypeTest, "master:test:a|b", []byte(`{"legacy":true,"id":"x"}`)); err == nil {
		t.Error("expected error promoting a pointer value")
	}
	if _, err := env.store.Legacy().Promote(context.Background(), "bogus", "master:bogus:a|b", []byte(`{"name":"b"}`)); !IsValidation(err) {
		t.Errorf("expected validation error for bad type, got %v", err)
	}
}

func TestMigrator_AttachesPayloadToExistingOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	owner, _, err := env.store.GetOrCreate(ctx, Contribution{Type: TypeTest, Category: "血液検査", Name: "CBC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key := "master:test:血液検査|ＣＢＣ"
	putRaw(t, env, key, `{"category":"血液検査","name":"CBC","count":9}`)
	rec, err := env.store.GetByLegacy(ctx, TypeTest, key, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != owner.ID {
		t.Errorf("expected payload attached to %s, got %s", owner.ID, rec.ID)
	}
	if !containsString(rec.LegacyAliases, key) {
		t.Errorf("expected %q added to aliases %v", key, rec.LegacyAliases)
	}
	if _, err := env.kv.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected raw key removed, got %v", err)
	}
}

func TestMigrator_FinalizesRawPointer(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	rec, _, err := env.store.GetOrCreate(ctx, Contribution{Type: TypeTest, Category: "血液検査", Name: "CBC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key := "master:test:旧分類|CBC"
	putRaw(t, env, key, `{"legacy":true,"id":"`+rec.ID+`"}`)
	got, err := env.store.GetByLegacy(ctx, TypeTest, key, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("expected %s, got %s", rec.ID, got.ID)
	}
	if _, err := env.kv.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected raw pointer removed, got %v", err)
	}
	ptr, err := env.store.proj.getPointer(ctx, key)
	if err != nil || ptr.ID != rec.ID {
		t.Errorf("expected pointer namespace entry, got %+v (%v)", ptr, err)
	}

	putRaw(t, env, "master:test:旧分類|消失", `{"legacy":true,"id":"missing"}`)
	if _, err := env.store.GetByLegacy(ctx, TypeTest, "master:test:旧分類|消失", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for dangling raw pointer, got %v", err)
	}
}

func TestMigrator_Resolve_RelationalSteps(t *testing.T) {
	repo := newMockRepo()
	env := newTestEnv(t, repo)
	ctx := context.Background()
	rec := &Record{
		ID:            "cbc",
		Type:          TypeTest,
		Category:      "血液検査",
		Name:          "CBC",
		LegacyKey:     "master:test:血液検査|cbc",
		LegacyAliases: []string{"master:test:旧|cbc"},
	}
	if _, err := env.store.Write(ctx, rec, WriteOptions{SkipAliasPointers: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		key  string
		hint *LegacyHint
	}{
		{"legacy key", "master:test:血液検査|cbc", nil},
		{"alias", "master:test:旧|cbc", nil},
		{"comparable key", "master:test:ケンサ|cbc", &LegacyHint{Category: "血液検査", Name: "ＣＢＣ"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.store.GetByLegacy(ctx, TypeTest, tt.key, tt.hint)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ID != "cbc" {
				t.Errorf("expected cbc, got %s", got.ID)
			}
		})
	}
}

func TestMigrator_Resolve_RelationalOutageUsesPointers(t *testing.T) {
	repo := newMockRepo()
	env := newTestEnv(t, repo)
	ctx := context.Background()
	rec, _, err := env.store.GetOrCreate(ctx, Contribution{Type: TypeTest, Category: "血液検査", Name: "CBC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.readErr = errors.New("connection reset")

	got, err := env.store.GetByLegacy(ctx, TypeTest, rec.LegacyKey, nil)
	if err != nil {
		t.Fatalf("expected pointer fallback, got %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("expected %s, got %s", rec.ID, got.ID)
	}
}

func TestMigrator_Resolve_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.store.GetByLegacy(ctx, "bogus", "master:bogus:a|b", nil); !IsValidation(err) {
		t.Errorf("expected validation error for bad type, got %v", err)
	}
	if _, err := env.store.GetByLegacy(ctx, TypeTest, "  ", nil); !IsValidation(err) {
		t.Errorf("expected validation error for empty key, got %v", err)
	}
	if _, err := env.store.GetByLegacy(ctx, TypeTest, "not-a-legacy-key", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	putRaw(t, env, "master:test:a|b", "")
	if _, err := env.store.GetByLegacy(ctx, TypeTest, "master:test:a|b", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty value, got %v", err)
	}
	putRaw(t, env, "master:test:a|c", "{broken")
	if _, err := env.store.GetByLegacy(ctx, TypeTest, "master:test:a|c", nil); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestClassifyLegacy(t *testing.T) {
	tests := []struct {
		raw     string
		want    legacyKind
		wantErr bool
	}{
		{"", legacyEmptyValue, false},
		{"  null ", legacyEmptyValue, false},
		{"{}", legacyEmptyValue, false},
		{`{"legacy":true,"id":" cbc "}`, legacyPointerValue, false},
		{`{"legacy":true}`, legacyRecordValue, false},
		{`{"name":"CBC"}`, legacyRecordValue, false},
		{`not json`, 0, true},
	}
	for _, tt := range tests {
		kind, p, err := classifyLegacy([]byte(tt.raw))
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if kind != tt.want {
			t.Errorf("%q: expected kind %d, got %d", tt.raw, tt.want, kind)
		}
		if kind == legacyPointerValue && p.ID != "cbc" {
			t.Errorf("%q: expected trimmed id, got %q", tt.raw, p.ID)
		}
	}
}

func TestFlexTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{`"2024-01-02T03:04:05Z"`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{`1700000000`, time.Unix(1700000000, 0).UTC()},
		{`1700000000123`, time.UnixMilli(1700000000123).UTC()},
		{`"1700000000"`, time.Unix(1700000000, 0).UTC()},
		{`"yesterday"`, time.Time{}},
		{`null`, time.Time{}},
		{`-5`, time.Time{}},
	}
	for _, tt := range tests {
		var f flexTime
		if err := f.UnmarshalJSON([]byte(tt.raw)); err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.raw, err)
		}
		if !f.Time().Equal(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.raw, tt.want, f.Time())
		}
	}
}

func TestLegacyPayload_Record(t *testing.T) {
	t.Run("symptom with explanations", func(t *testing.T) {
		_, p, err := classifyLegacy([]byte(`{
			"patientLabel":"胸がどきどきする",
			"synonyms":["心悸亢進"],
			"icd10":["r00.2"],
			"desc_samples":["脈が速い"],
			"status":"approved",
			"sortOrder":"3",
			"explanations":[
				{"text":"自覚的な心拍の異常","status":"draft"},
				{"text":"医師向け説明","status":"published","audience":"clinician"},
				{"text":"自覚的な心拍の異常"}
			]
		}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rec, err := p.record(TypeSymptom, "master:symptom:循環器症状|動悸")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Category != "循環器症状" || rec.Name != "動悸" {
			t.Errorf("expected identity from key, got %s/%s", rec.Category, rec.Name)
		}
		if rec.Status != StatusApproved {
			t.Errorf("expected approved, got %s", rec.Status)
		}
		if rec.SortOrder == nil || *rec.SortOrder != 3 {
			t.Errorf("expected sortOrder 3, got %v", rec.SortOrder)
		}
		if rec.Symptom == nil || rec.Symptom.PatientLabel != "胸がどきどきする" {
			t.Fatalf("expected symptom extension, got %+v", rec.Extensions)
		}
		if len(rec.Explanations) != 2 {
			t.Fatalf("expected duplicate explanation text dropped, got %d", len(rec.Explanations))
		}
		if rec.Description != "医師向け説明" {
			t.Errorf("expected description from the published explanation, got %q", rec.Description)
		}
		if !containsString(rec.DescriptionSamples, "脈が速い") || !containsString(rec.DescriptionSamples, "自覚的な心拍の異常") {
			t.Errorf("unexpected samples %v", rec.DescriptionSamples)
		}
	})

	t.Run("qualification default classification", func(t *testing.T) {
		_, p, _ := classifyLegacy([]byte(`{"issuer":"日本内科学会"}`))
		rec, err := p.record(TypeQual, "master:qual:内科基盤|総合内科専門医")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Classification != DefaultQualClassification {
			t.Errorf("expected %s, got %q", DefaultQualClassification, rec.Classification)
		}
		if rec.Qualification == nil || rec.Qualification.Issuer != "日本内科学会" {
			t.Errorf("expected qualification extension, got %+v", rec.Qualification)
		}
	})

	t.Run("missing identity", func(t *testing.T) {
		_, p, _ := classifyLegacy([]byte(`{"count":1}`))
		if _, err := p.record(TypeTest, "master:test:|"); !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

// seedLegacyKeys writes one key of every kind the sweep handles.
func seedLegacyKeys(t *testing.T, env *testEnv) *Record {
	t.Helper()
	owner, _, err := env.store.GetOrCreate(context.Background(), Contribution{Type: TypeTest, Category: "血液検査", Name: "CBC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	putRaw(t, env, "master:test:空|x", "")
	putRaw(t, env, "master:test:旧|CBC", `{"legacy":true,"id":"`+owner.ID+`"}`)
	putRaw(t, env, "master:test:尿検査|尿定性", `{"count":2}`)
	putRaw(t, env, owner.LegacyKey, `{"category":"血液検査","name":"CBC"}`)
	putRaw(t, env, "master:test:|", `{"count":1}`)
	putRaw(t, env, "master:service:内科一般|問診", `{}`)
	return owner
}

func TestCleanupLegacy_DryRunMakesNoWrites(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedLegacyKeys(t, env)
	env.kv.reset()

	sum, err := env.store.Legacy().CleanupLegacy(ctx, nil, CleanupOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := env.kv.mutations(); n != 0 {
		t.Errorf("expected zero writes in dry-run, got %d", n)
	}
	if !sum.DryRun {
		t.Error("expected summary flagged as dry-run")
	}
	want := MigrationCounts{Scanned: 6, Empty: 2, Pointers: 1, Promoted: 1, Attached: 1, Failed: 1}
	if sum.Totals != want {
		t.Errorf("expected totals %+v, got %+v", want, sum.Totals)
	}
	if len(sum.Types) != len(Types) {
		t.Errorf("expected a summary per type, got %d", len(sum.Types))
	}
	if len(sum.Samples) != 5 || len(sum.Errors) != 1 {
		t.Errorf("expected 5 samples and 1 error, got %d/%d", len(sum.Samples), len(sum.Errors))
	}
	if sum.Errors[0].Key != "master:test:|" {
		t.Errorf("unexpected failing key %q", sum.Errors[0].Key)
	}
}

func TestCleanupLegacy_Apply(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	owner := seedLegacyKeys(t, env)

	sum, err := env.store.Legacy().CleanupLegacy(ctx, []Type{TypeTest}, CleanupOptions{SampleLimit: 2, BatchSize: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := MigrationCounts{Scanned: 5, Empty: 1, Pointers: 1, Promoted: 1, Attached: 1, Failed: 1}
	if sum.Totals != want {
		t.Errorf("expected totals %+v, got %+v", want, sum.Totals)
	}
	if len(sum.Samples) != 2 {
		t.Errorf("expected samples capped at 2, got %d", len(sum.Samples))
	}

	for _, key := range []string{"master:test:空|x", "master:test:旧|CBC", "master:test:尿検査|尿定性", owner.LegacyKey} {
		if _, err := env.kv.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Errorf("expected %s removed, got %v", key, err)
		}
	}
	if _, err := env.kv.Get(ctx, "master:service:内科一般|問診"); err != nil {
		t.Errorf("expected other types untouched, got %v", err)
	}

	promoted, err := env.store.GetByLegacy(ctx, TypeTest, "master:test:尿検査|尿定性", nil)
	if err != nil {
		t.Fatalf("expected promoted record to resolve, got %v", err)
	}
	if promoted.UsageCount != 2 {
		t.Errorf("expected usage 2, got %d", promoted.UsageCount)
	}
	got, err := env.store.GetByLegacy(ctx, TypeTest, "master:test:旧|CBC", nil)
	if err != nil || got.ID != owner.ID {
		t.Errorf("expected finalized pointer to %s, got %v (%v)", owner.ID, got, err)
	}

	again, err := env.store.Legacy().CleanupLegacy(ctx, []Type{TypeTest}, CleanupOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Totals.Scanned != 1 || again.Totals.Failed != 1 {
		t.Errorf("expected only the broken key left, got %+v", again.Totals)
	}
}

func TestCleanupLegacy_InvalidType(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.store.Legacy().CleanupLegacy(context.Background(), []Type{"bogus"}, CleanupOptions{DryRun: true}); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// rescanKV serves every key of a prefix on two pages, as SCAN may.
type rescanKV struct {
	kv.Store
}

func (s rescanKV) List(ctx context.Context, opts kv.ListOptions) (kv.ListResult, error) {
	res, err := s.Store.List(ctx, kv.ListOptions{Prefix: opts.Prefix, Limit: kv.DefaultListLimit})
	if err != nil {
		return kv.ListResult{}, err
	}
	if opts.Cursor == "" {
		return kv.ListResult{Keys: res.Keys, Cursor: "again"}, nil
	}
	return kv.ListResult{Keys: res.Keys, Complete: true}, nil
}

func TestRepeatedScanKeysCountOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	env.kv.Store = rescanKV{env.kv.Store}
	ctx := context.Background()

	if _, _, err := env.store.GetOrCreate(ctx, Contribution{Type: TypeTest, Category: "生化学", Name: "AST"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	putRaw(t, env, "master:test:血液検査|CBC", `{"category":"血液検査","name":"CBC"}`)

	recs, err := env.store.ListByType(ctx, TypeTest, ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}

	sum, err := env.store.Legacy().CleanupLegacy(ctx, []Type{TypeTest}, CleanupOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Totals.Scanned != 1 || sum.Totals.Promoted != 1 {
		t.Errorf("expected one key scanned and promoted, got %+v", sum.Totals)
	}
}
