package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/platform/kv"
)

var defaultCategories = map[Type][]string{
	TypeTest: {
		"内科一般検査", "循環器検査", "呼吸器検査", "消化器検査", "内分泌・代謝検査",
		"腎臓・泌尿器検査", "神経内科系検査", "整形外科系検査", "皮膚科検査", "アレルギー検査",
		"小児科検査", "耳鼻咽喉科検査", "眼科検査", "産婦人科検査", "精神科・心理検査",
		"在宅医療関連検査", "健診・予防関連検査",
	},
	TypeService: {
		"内科一般", "循環器", "呼吸器", "消化器", "内分泌・代謝（糖尿病等）",
		"腎臓", "神経内科", "整形外科", "皮膚科", "アレルギー科",
		"小児科", "耳鼻咽喉科", "眼科", "泌尿器科", "精神科・心療内科",
		"在宅医療・訪問診療", "リハビリテーション", "健診・予防接種", "禁煙外来", "睡眠医療",
	},
	TypeQual: {
		"内科基盤", "総合診療領域", "循環器領域", "呼吸器領域", "消化器領域", "内分泌・代謝領域",
		"腎臓領域", "血液領域", "神経領域", "感染症領域", "アレルギー・膠原病領域",
		"小児科領域", "産婦人科領域", "皮膚科領域", "眼科領域", "耳鼻咽喉科領域", "精神科領域",
		"外科領域", "心臓血管外科領域", "整形外科領域", "脳神経外科領域", "泌尿器領域",
		"放射線科領域", "麻酔科領域", "病理領域", "臨床検査領域", "リハビリテーション領域",
	},
	TypeDepartment: {"標榜診療科"},
	TypeFacility:   {"学会認定", "行政・公費", "地域・在宅"},
	TypeSymptom: {
		"消化器症状", "呼吸器症状", "循環器症状", "内分泌・代謝症状", "神経症状", "整形外科症状",
		"皮膚症状", "耳鼻咽喉症状", "眼科症状", "泌尿器症状", "産婦人科症状", "小児科症状", "精神・心理症状",
	},
	TypeBodySite: {"頭頸部", "胸部", "腹部", "骨盤", "背部", "上肢", "下肢", "皮膚", "体幹", "全身"},
}

// DefaultCategories returns a fresh copy of the seed list for t.
func DefaultCategories(t Type) []string {
	return append([]string{}, defaultCategories[t]...)
}

// CategoryOp is a category list mutation.
type CategoryOp string

const (
	CategoryAdd    CategoryOp = "add"
	CategoryRename CategoryOp = "rename"
	CategoryDelete CategoryOp = "delete"
)

var categoryOps = []string{string(CategoryAdd), string(CategoryRename), string(CategoryDelete)}

// CategoryRegistry keeps the per-type (and optionally per-organization)
// category picklists. Lists are independent of the records: renaming or
// deleting a category never touches existing records.
type CategoryRegistry struct {
	kv     kv.Store
	repo   Repository
	logger zerolog.Logger
}

func NewCategoryRegistry(store kv.Store, repo Repository, logger zerolog.Logger) *CategoryRegistry {
	return &CategoryRegistry{
		kv:     store,
		repo:   repo,
		logger: logger.With().Str("component", "category_registry").Logger(),
	}
}

func (r *CategoryRegistry) load(ctx context.Context, t Type, orgID string) ([]string, bool, error) {
	raw, err := r.kv.Get(ctx, categoryKey(t, orgID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read categories %s: %w", t, err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		r.logger.Warn().Err(err).Str("type", string(t)).Msg("discarding corrupt category list")
		return nil, false, nil
	}
	return names, true, nil
}

func (r *CategoryRegistry) save(ctx context.Context, t Type, orgID string, names []string) error {
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, categoryKey(t, orgID), b, 0); err != nil {
		return fmt.Errorf("write categories %s: %w", t, err)
	}
	if r.repo != nil {
		if err := r.repo.ReplaceCategories(ctx, t, orgID, names); err != nil {
			r.logger.Warn().Err(err).Str("type", string(t)).Str("organization_id", orgID).Msg("category mirror write failed")
		}
	}
	return nil
}

// List returns the category list, seeding it on first access. An
// organization without its own list starts from the global one.
func (r *CategoryRegistry) List(ctx context.Context, t Type, orgID string) ([]string, error) {
	if !t.Valid() {
		return nil, invalidValue("type", string(t), typeNames())
	}
	names, ok, err := r.load(ctx, t, orgID)
	if err != nil || ok {
		return names, err
	}
	if orgID != "" {
		names, err = r.List(ctx, t, "")
		if err != nil {
			return nil, err
		}
	} else {
		names = DefaultCategories(t)
	}
	if err := r.save(ctx, t, orgID, names); err != nil {
		return nil, err
	}
	return names, nil
}

// Add appends name when absent.
func (r *CategoryRegistry) Add(ctx context.Context, t Type, orgID, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, required("name")
	}
	names, err := r.List(ctx, t, orgID)
	if err != nil {
		return nil, err
	}
	if containsString(names, name) {
		return names, nil
	}
	names = append(names, name)
	return names, r.save(ctx, t, orgID, names)
}

// Rename rewrites oldName in place.
func (r *CategoryRegistry) Rename(ctx context.Context, t Type, orgID, oldName, newName string) ([]string, error) {
	oldName, newName = strings.TrimSpace(oldName), strings.TrimSpace(newName)
	if oldName == "" {
		return nil, required("name")
	}
	if newName == "" {
		return nil, required("newName")
	}
	names, err := r.List(ctx, t, orgID)
	if err != nil {
		return nil, err
	}
	for i, n := range names {
		if n == oldName {
			names[i] = newName
		}
	}
	names = uniqueTrimmed(names)
	return names, r.save(ctx, t, orgID, names)
}

// Delete removes name from the list.
func (r *CategoryRegistry) Delete(ctx context.Context, t Type, orgID, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, required("name")
	}
	names, err := r.List(ctx, t, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out, r.save(ctx, t, orgID, out)
}

// Mutate dispatches op.
func (r *CategoryRegistry) Mutate(ctx context.Context, t Type, orgID string, op CategoryOp, name, newName string) ([]string, error) {
	switch CategoryOp(strings.ToLower(strings.TrimSpace(string(op)))) {
	case CategoryAdd:
		return r.Add(ctx, t, orgID, name)
	case CategoryRename:
		return r.Rename(ctx, t, orgID, name, newName)
	case CategoryDelete:
		return r.Delete(ctx, t, orgID, name)
	}
	return nil, invalidValue("op", string(op), categoryOps)
}

// Seed writes the default lists of the given types. Existing lists are kept
// unless force is set. It returns the types that were written.
func (r *CategoryRegistry) Seed(ctx context.Context, types []Type, force bool) ([]Type, error) {
	if len(types) == 0 {
		types = Types
	}
	var seeded []Type
	for _, t := range types {
		if !t.Valid() {
			return seeded, invalidValue("types", string(t), typeNames())
		}
		if !force {
			if _, ok, err := r.load(ctx, t, ""); err != nil {
				return seeded, err
			} else if ok {
				continue
			}
		}
		if err := r.save(ctx, t, "", DefaultCategories(t)); err != nil {
			return seeded, err
		}
		seeded = append(seeded, t)
	}
	return seeded, nil
}
