package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/platform/kv"
)

// projection is the key-value copy of every record plus the legacy pointer
// namespace. It is the durability fallback when the relational store fails.
type projection struct {
	kv     kv.Store
	logger zerolog.Logger
}

func (p projection) putJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.kv.Put(ctx, key, b, 0)
}

func (p projection) getRecord(ctx context.Context, t Type, id string) (*Record, error) {
	raw, err := p.kv.Get(ctx, recordKey(t, id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", recordKey(t, id), err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.Type == "" {
		rec.Type = t
	}
	return &rec, nil
}

func (p projection) putRecord(ctx context.Context, rec *Record) error {
	stored := rec.Clone()
	return p.putJSON(ctx, recordKey(rec.Type, rec.ID), stored)
}

func (p projection) deleteRecord(ctx context.Context, t Type, id string) error {
	return p.kv.Delete(ctx, recordKey(t, id))
}

func (p projection) getPointer(ctx context.Context, legacyKey string) (*LegacyPointer, error) {
	raw, err := p.kv.Get(ctx, pointerKey(legacyKey))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var ptr LegacyPointer
	if err := json.Unmarshal(raw, &ptr); err != nil || ptr.ID == "" {
		return nil, fmt.Errorf("decode pointer %s: invalid payload", legacyKey)
	}
	if ptr.LegacyKey == "" {
		ptr.LegacyKey = legacyKey
	}
	return &ptr, nil
}

func (p projection) putPointer(ctx context.Context, ptr LegacyPointer) error {
	return p.putJSON(ctx, pointerKey(ptr.LegacyKey), ptr)
}

func (p projection) deletePointer(ctx context.Context, legacyKey string) error {
	return p.kv.Delete(ctx, pointerKey(legacyKey))
}

func pointerFor(rec *Record, legacyKey string) LegacyPointer {
	return LegacyPointer{
		LegacyKey: legacyKey,
		Type:      rec.Type,
		ID:        rec.ID,
		Name:      rec.Name,
		Category:  rec.Category,
		UpdatedAt: rec.UpdatedAt,
	}
}

// listRecords scans the stable-id keys of a type. Legacy category|name keys
// and undecodable values are skipped.
func (p projection) listRecords(ctx context.Context, t Type) ([]*Record, error) {
	var out []*Record
	err := kv.ListAll(ctx, p.kv, recordPrefix(t), kv.DefaultListLimit, func(key string) error {
		if IsLegacyRecordKey(key) {
			return nil
		}
		raw, err := p.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return nil
			}
			return err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
			p.logger.Warn().Str("key", key).Msg("skipping undecodable master projection")
			return nil
		}
		out = append(out, &rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", recordPrefix(t), err)
	}
	return out, nil
}
