package master

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/platform/kv"
)

func newTestRegistry(repo *mockRepo) (*CategoryRegistry, *kv.Memory) {
	store := kv.NewMemory()
	var r Repository
	if repo != nil {
		r = repo
	}
	return NewCategoryRegistry(store, r, zerolog.Nop()), store
}

func TestDefaultCategories_ReturnsCopy(t *testing.T) {
	a := DefaultCategories(TypeBodySite)
	a[0] = "changed"
	if DefaultCategories(TypeBodySite)[0] != "頭頸部" {
		t.Error("expected the seed list to be unaffected by callers")
	}
	if got := DefaultCategories(TypeSociety); len(got) != 0 {
		t.Errorf("expected no society defaults, got %v", got)
	}
}

func TestCategoryRegistry_ListSeedsDefaults(t *testing.T) {
	repo := newMockRepo()
	reg, store := newTestRegistry(repo)
	ctx := context.Background()

	names, err := reg.List(ctx, TypeFacility, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(names, DefaultCategories(TypeFacility)) {
		t.Errorf("expected defaults, got %v", names)
	}
	if _, err := store.Get(ctx, categoryKey(TypeFacility, "")); err != nil {
		t.Errorf("expected list persisted, got %v", err)
	}
	if got := repo.categories[categoryKey(TypeFacility, "")]; len(got) != len(names) {
		t.Errorf("expected relational mirror, got %v", got)
	}

	if _, err := reg.List(ctx, "bogus", ""); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCategoryRegistry_OrganizationStartsFromGlobal(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx := context.Background()

	if _, err := reg.Add(ctx, TypeFacility, "", "全国"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names, err := reg.List(ctx, TypeFacility, "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsString(names, "全国") {
		t.Errorf("expected org list to start from the global list, got %v", names)
	}

	if _, err := reg.Add(ctx, TypeFacility, "org-1", "院内"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	global, _ := reg.List(ctx, TypeFacility, "")
	if containsString(global, "院内") {
		t.Error("expected org additions to stay out of the global list")
	}
}

func TestCategoryRegistry_Mutate(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx := context.Background()

	names, err := reg.Mutate(ctx, TypeDepartment, "", CategoryAdd, "歯科", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if want := []string{"標榜診療科", "歯科"}; !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}

	names, err = reg.Mutate(ctx, TypeDepartment, "", CategoryAdd, "歯科", "")
	if err != nil || len(names) != 2 {
		t.Errorf("expected add to be idempotent, got %v (%v)", names, err)
	}

	names, err = reg.Mutate(ctx, TypeDepartment, "", "RENAME", "歯科", "標榜診療科")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if want := []string{"標榜診療科"}; !reflect.DeepEqual(names, want) {
		t.Errorf("expected rename to collapse duplicates, got %v", names)
	}

	names, err = reg.Mutate(ctx, TypeDepartment, "", CategoryDelete, "標榜診療科", "")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected empty list, got %v", names)
	}
	names, err = reg.List(ctx, TypeDepartment, "")
	if err != nil || len(names) != 0 {
		t.Errorf("expected an emptied list to stay empty, got %v (%v)", names, err)
	}

	tests := []struct {
		op      CategoryOp
		name    string
		newName string
	}{
		{"merge", "a", ""},
		{CategoryAdd, " ", ""},
		{CategoryRename, "a", ""},
		{CategoryDelete, "", ""},
	}
	for _, tt := range tests {
		if _, err := reg.Mutate(ctx, TypeDepartment, "", tt.op, tt.name, tt.newName); !IsValidation(err) {
			t.Errorf("%s %q: expected validation error, got %v", tt.op, tt.name, err)
		}
	}
}

func TestCategoryRegistry_Seed(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx := context.Background()

	if _, err := reg.Add(ctx, TypeTest, "", "独自検査"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seeded, err := reg.Seed(ctx, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seeded) != len(Types)-1 || containsType(seeded, TypeTest) {
		t.Errorf("expected every type but test seeded, got %v", seeded)
	}
	names, _ := reg.List(ctx, TypeTest, "")
	if !containsString(names, "独自検査") {
		t.Error("expected existing list kept without force")
	}

	seeded, err = reg.Seed(ctx, []Type{TypeTest}, true)
	if err != nil || len(seeded) != 1 {
		t.Fatalf("expected forced seed, got %v (%v)", seeded, err)
	}
	names, _ = reg.List(ctx, TypeTest, "")
	if containsString(names, "独自検査") {
		t.Error("expected forced seed to reset the list")
	}

	if _, err := reg.Seed(ctx, []Type{"bogus"}, false); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func containsType(list []Type, t Type) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func TestCategoryRegistry_MirrorFailureIsTolerated(t *testing.T) {
	repo := newMockRepo()
	repo.writeErr = errContrived
	reg, _ := newTestRegistry(repo)
	if _, err := reg.Add(context.Background(), TypeSymptom, "", "全身症状"); err != nil {
		t.Errorf("expected mirror failure to be logged only, got %v", err)
	}
}
