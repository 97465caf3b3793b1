package master

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/platform/kv"
)

func newTestThesaurus(t *testing.T) (*ThesaurusRegistry, *kv.Memory, *time.Time) {
	t.Helper()
	mem := kv.NewMemory()
	now := testNow
	return NewThesaurusRegistry(mem, zerolog.Nop(), func() time.Time { return now }), mem, &now
}

func strPtr(s string) *string { return &s }

func TestThesaurus_UpsertMergesByNormalizedTerm(t *testing.T) {
	reg, mem, now := newTestThesaurus(t)
	ctx := context.Background()

	first, err := reg.Upsert(ctx, ThesaurusInput{
		Term:     "ＡＳＴ",
		Variants: &[]string{"GOT", " GOT ", "アスパラギン酸アミノトランスフェラーゼ"},
		Context:  &[]string{"lab"},
		Locale:   strPtr("ja"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Normalized != "ast" || first.Term != "ＡＳＴ" {
		t.Errorf("unexpected entry %+v", first)
	}
	if want := []string{"GOT", "アスパラギン酸アミノトランスフェラーゼ"}; !reflect.DeepEqual(first.Variants, want) {
		t.Errorf("expected %v, got %v", want, first.Variants)
	}
	if _, err := mem.Get(ctx, "thesaurus:ast"); err != nil {
		t.Fatalf("expected entry under thesaurus:ast: %v", err)
	}

	*now = testNow.Add(time.Hour)
	second, err := reg.Upsert(ctx, ThesaurusInput{Term: " a s t ", Notes: strPtr("肝機能")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Term != "a s t" {
		t.Errorf("expected the term to be replaced, got %q", second.Term)
	}
	if !reflect.DeepEqual(second.Variants, first.Variants) || second.Locale != "ja" {
		t.Errorf("expected absent fields to keep stored values, got %+v", second)
	}
	if second.Notes != "肝機能" {
		t.Errorf("expected notes, got %q", second.Notes)
	}
	if !second.CreatedAt.Equal(testNow) || !second.UpdatedAt.Equal(*now) {
		t.Errorf("unexpected timestamps %v %v", second.CreatedAt, second.UpdatedAt)
	}

	cleared, err := reg.Upsert(ctx, ThesaurusInput{Normalized: "AST", Variants: &[]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cleared.Variants) != 0 || cleared.Term != "a s t" {
		t.Errorf("expected variants cleared and term kept, got %+v", cleared)
	}
}

func TestThesaurus_UpsertRequiresTerm(t *testing.T) {
	reg, _, _ := newTestThesaurus(t)
	if _, err := reg.Upsert(context.Background(), ThesaurusInput{Term: " 　"}); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestThesaurus_List(t *testing.T) {
	reg, mem, _ := newTestThesaurus(t)
	ctx := context.Background()
	for _, in := range []ThesaurusInput{
		{Term: "頭痛", Variants: &[]string{"ずつう", "頭がいたい"}, Context: &[]string{"symptom"}},
		{Term: "CRP", Variants: &[]string{"C-reactive protein"}, Context: &[]string{"lab"}},
		{Term: "AST", Variants: &[]string{"GOT"}, Context: &[]string{"lab", "liver"}},
	} {
		if _, err := reg.Upsert(ctx, in); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := mem.Put(ctx, "thesaurus:broken", []byte("{"), 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter ThesaurusFilter
		want   []string
	}{
		{"all", ThesaurusFilter{}, []string{"ast", "crp", "頭痛"}},
		{"exact", ThesaurusFilter{Normalized: " Ｃ Ｒ Ｐ "}, []string{"crp"}},
		{"exact missing", ThesaurusFilter{Normalized: "alt"}, nil},
		{"term substring", ThesaurusFilter{Term: "いたい"}, []string{"頭痛"}},
		{"variant case", ThesaurusFilter{Term: "got"}, []string{"ast"}},
		{"context", ThesaurusFilter{Context: "lab"}, []string{"ast", "crp"}},
		{"term and context", ThesaurusFilter{Term: "protein", Context: "liver"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var names []string
			for _, e := range got {
				names = append(names, e.Normalized)
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, names)
			}
		})
	}
}

func TestService_ThesaurusSharesProjectionStore(t *testing.T) {
	svc, env := newTestService(t, nil)
	ctx := context.Background()
	entry, err := svc.UpsertThesaurus(ctx, ThesaurusInput{Term: "発熱"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.CreatedAt.Equal(testNow) {
		t.Errorf("expected store clock, got %v", entry.CreatedAt)
	}
	if _, err := env.kv.Get(ctx, thesaurusNamespace+"発熱"); err != nil {
		t.Errorf("expected entry in the shared key-value store: %v", err)
	}
	items, err := svc.ListThesaurus(ctx, ThesaurusFilter{Term: "発"})
	if err != nil || len(items) != 1 {
		t.Errorf("expected one entry, got %v %v", items, err)
	}
}
