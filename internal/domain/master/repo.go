package master

import "context"

// Repository is the relational index over master records. Lookups return
// ErrNotFound when nothing matches.
type Repository interface {
	GetByID(ctx context.Context, t Type, id string) (*Record, error)
	GetByLegacyKey(ctx context.Context, t Type, legacyKey string) (*Record, error)
	GetByAlias(ctx context.Context, t Type, alias string) (*Record, error)
	GetByComparableKey(ctx context.Context, t Type, comparableKey string) (*Record, error)
	// Upsert writes the row and rebuilds its alias rows from LegacyAliases.
	Upsert(ctx context.Context, r *Record) error
	// Delete removes the row and its alias rows.
	Delete(ctx context.Context, t Type, id string) error
	List(ctx context.Context, t Type, f ListFilter) ([]*Record, error)
	ReplaceCategories(ctx context.Context, t Type, orgID string, names []string) error
}
