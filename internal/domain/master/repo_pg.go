package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medterm/masterdata/internal/platform/db"
	"github.com/medterm/masterdata/internal/textnorm"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type pgRepo struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &pgRepo{pool: pool} }

func (r *pgRepo) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const itemColumns = `type, id, organization_id, category, name, COALESCE(canonical_name,''), status,
	COALESCE(classification,''), COALESCE(medical_field,''), COALESCE(sort_group,''), sort_order,
	COALESCE(description,''), desc_samples, COALESCE(notes,''), COALESCE(reference_url,''),
	usage_count, sources, explanations, metadata, COALESCE(legacy_key,''), legacy_aliases,
	COALESCE(comparable_key,''), COALESCE(normalized_name,''), COALESCE(normalized_category,''),
	created_at, updated_at`

// joinedItemColumns is itemColumns qualified with the m alias.
const joinedItemColumns = `m.type, m.id, m.organization_id, m.category, m.name, COALESCE(m.canonical_name,''), m.status,
	COALESCE(m.classification,''), COALESCE(m.medical_field,''), COALESCE(m.sort_group,''), m.sort_order,
	COALESCE(m.description,''), m.desc_samples, COALESCE(m.notes,''), COALESCE(m.reference_url,''),
	m.usage_count, m.sources, m.explanations, m.metadata, COALESCE(m.legacy_key,''), m.legacy_aliases,
	COALESCE(m.comparable_key,''), COALESCE(m.normalized_name,''), COALESCE(m.normalized_category,''),
	m.created_at, m.updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var samples, sources, expls, metadata, aliases []byte
	err := row.Scan(&rec.Type, &rec.ID, &rec.OrganizationID, &rec.Category, &rec.Name, &rec.CanonicalName,
		&rec.Status, &rec.Classification, &rec.MedicalField, &rec.SortGroup, &rec.SortOrder,
		&rec.Description, &samples, &rec.Notes, &rec.ReferenceURL,
		&rec.UsageCount, &sources, &expls, &metadata, &rec.LegacyKey, &aliases,
		&rec.ComparableKey, &rec.NormalizedName, &rec.NormalizedCategory,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst interface{}
	}{
		{samples, &rec.DescriptionSamples},
		{sources, &rec.Sources},
		{expls, &rec.Explanations},
		{metadata, &rec.Extensions},
		{aliases, &rec.LegacyAliases},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", rec.Type, rec.ID, err)
		}
	}
	return &rec, nil
}

func (r *pgRepo) getOne(ctx context.Context, op, query string, args ...interface{}) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("master %s: %w", op, err)
	}
	return rec, nil
}

func (r *pgRepo) GetByID(ctx context.Context, t Type, id string) (*Record, error) {
	return r.getOne(ctx, "get by id",
		`SELECT `+itemColumns+` FROM master_items WHERE type = $1 AND id = $2`, t, id)
}

func (r *pgRepo) GetByLegacyKey(ctx context.Context, t Type, legacyKey string) (*Record, error) {
	return r.getOne(ctx, "get by legacy key",
		`SELECT `+itemColumns+` FROM master_items WHERE type = $1 AND legacy_key = $2
		 ORDER BY created_at, id LIMIT 1`, t, legacyKey)
}

func (r *pgRepo) GetByAlias(ctx context.Context, t Type, alias string) (*Record, error) {
	return r.getOne(ctx, "get by alias",
		`SELECT `+joinedItemColumns+` FROM master_item_aliases a
		 JOIN master_items m ON m.type = a.item_type AND m.id = a.item_id
		 WHERE a.item_type = $1 AND a.alias = $2`, t, alias)
}

func (r *pgRepo) GetByComparableKey(ctx context.Context, t Type, comparableKey string) (*Record, error) {
	return r.getOne(ctx, "get by comparable key",
		`SELECT `+itemColumns+` FROM master_items WHERE type = $1 AND comparable_key = $2
		 ORDER BY created_at, id LIMIT 1`, t, comparableKey)
}

func jsonText(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *pgRepo) Upsert(ctx context.Context, rec *Record) error {
	samples, err := jsonText(nonNil(rec.DescriptionSamples))
	if err != nil {
		return fmt.Errorf("master upsert: %w", err)
	}
	sources, _ := jsonText(nonNil(rec.Sources))
	aliases, _ := jsonText(nonNil(rec.LegacyAliases))
	metadata, _ := jsonText(rec.Extensions)
	expls := rec.Explanations
	if expls == nil {
		expls = []Explanation{}
	}
	explJSON, err := jsonText(expls)
	if err != nil {
		return fmt.Errorf("master upsert: %w", err)
	}

	return db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO master_items (
				type, id, organization_id, category, name, canonical_name, status, classification,
				medical_field, sort_group, sort_order, description, desc_samples, notes, reference_url,
				usage_count, sources, explanations, metadata, legacy_key, legacy_aliases,
				comparable_key, normalized_name, normalized_category, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,NULLIF($8,''),NULLIF($9,''),NULLIF($10,''),$11,
				NULLIF($12,''),$13::jsonb,NULLIF($14,''),NULLIF($15,''),$16,$17::jsonb,$18::jsonb,$19::jsonb,
				NULLIF($20,''),$21::jsonb,NULLIF($22,''),$23,$24,$25,$26)
			ON CONFLICT (type, id) DO UPDATE SET
				organization_id = EXCLUDED.organization_id,
				category = EXCLUDED.category,
				name = EXCLUDED.name,
				canonical_name = EXCLUDED.canonical_name,
				status = EXCLUDED.status,
				classification = EXCLUDED.classification,
				medical_field = EXCLUDED.medical_field,
				sort_group = EXCLUDED.sort_group,
				sort_order = EXCLUDED.sort_order,
				description = EXCLUDED.description,
				desc_samples = EXCLUDED.desc_samples,
				notes = EXCLUDED.notes,
				reference_url = EXCLUDED.reference_url,
				usage_count = EXCLUDED.usage_count,
				sources = EXCLUDED.sources,
				explanations = EXCLUDED.explanations,
				metadata = EXCLUDED.metadata,
				legacy_key = EXCLUDED.legacy_key,
				legacy_aliases = EXCLUDED.legacy_aliases,
				comparable_key = EXCLUDED.comparable_key,
				normalized_name = EXCLUDED.normalized_name,
				normalized_category = EXCLUDED.normalized_category,
				updated_at = EXCLUDED.updated_at`,
			rec.Type, rec.ID, rec.OrganizationID, rec.Category, rec.Name, rec.CanonicalName, rec.Status,
			rec.Classification, rec.MedicalField, rec.SortGroup, rec.SortOrder, rec.Description, samples,
			rec.Notes, rec.ReferenceURL, rec.UsageCount, sources, explJSON, metadata, rec.LegacyKey, aliases,
			rec.ComparableKey, rec.NormalizedName, rec.NormalizedCategory, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("master upsert %s/%s: %w", rec.Type, rec.ID, err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM master_item_aliases WHERE item_type = $1 AND item_id = $2`, rec.Type, rec.ID); err != nil {
			return fmt.Errorf("master clear aliases %s/%s: %w", rec.Type, rec.ID, err)
		}
		for _, alias := range rec.LegacyAliases {
			source := "alias"
			if alias == rec.LegacyKey {
				source = "legacy"
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO master_item_aliases (alias, item_type, item_id, normalized_alias, source)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (alias) DO UPDATE SET item_type = EXCLUDED.item_type,
				   item_id = EXCLUDED.item_id, normalized_alias = EXCLUDED.normalized_alias,
				   source = EXCLUDED.source`,
				alias, rec.Type, rec.ID, textnorm.Segment(alias), source); err != nil {
				return fmt.Errorf("master insert alias %s: %w", alias, err)
			}
		}
		return nil
	})
}

func (r *pgRepo) Delete(ctx context.Context, t Type, id string) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM master_item_aliases WHERE item_type = $1 AND item_id = $2`, t, id); err != nil {
			return fmt.Errorf("master delete aliases %s/%s: %w", t, id, err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM master_items WHERE type = $1 AND id = $2`, t, id)
		if err != nil {
			return fmt.Errorf("master delete %s/%s: %w", t, id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// List returns matching rows. Organization-specific rows come before global
// ones; the final collation order is applied by the caller.
func (r *pgRepo) List(ctx context.Context, t Type, f ListFilter) ([]*Record, error) {
	query := `SELECT ` + itemColumns + ` FROM master_items WHERE type = $1`
	args := []interface{}{t}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	args = append(args, f.OrganizationID)
	query += fmt.Sprintf(" AND organization_id IN ('', $%d)", len(args))
	query += ` ORDER BY sort_order NULLS LAST, sort_group NULLS FIRST, name`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("master list %s: %w", t, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("master list %s: %w", t, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *pgRepo) ReplaceCategories(ctx context.Context, t Type, orgID string, names []string) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM master_categories WHERE type = $1 AND organization_id = $2`, t, orgID); err != nil {
			return fmt.Errorf("master categories clear %s: %w", t, err)
		}
		defaults := DefaultCategories(t)
		for i, name := range names {
			if _, err := tx.Exec(ctx,
				`INSERT INTO master_categories (type, organization_id, name, display_order, is_default)
				 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
				t, orgID, name, i, containsString(defaults, name)); err != nil {
				return fmt.Errorf("master categories insert %s: %w", name, err)
			}
		}
		return nil
	})
}
