package master

import (
	"strings"

	"github.com/medterm/masterdata/internal/textnorm"
)

// Key namespaces in the key-value store.
const (
	recordNamespace    = "master:"
	pointerNamespace   = "legacyPointer:"
	claimNamespace     = "idclaim:"
	categoryNamespace  = "categories:"
	cacheNamespace     = "mastercache:"
	thesaurusNamespace = "thesaurus:"

	legacyDelimiter = "|"
)

// ComparableKey is the normalized identity of a (type, category, name)
// triple. It is empty when any segment normalizes to empty.
func ComparableKey(t Type, category, name string) string {
	ts := textnorm.Segment(string(t))
	cs := textnorm.Segment(category)
	ns := textnorm.Segment(name)
	if ts == "" || cs == "" || ns == "" {
		return ""
	}
	return ts + ":" + cs + legacyDelimiter + ns
}

// DefaultLegacyKey is the composite key older callers derive for a triple.
func DefaultLegacyKey(t Type, category, name string) string {
	cs := textnorm.Segment(category)
	ns := textnorm.Segment(name)
	if cs == "" || ns == "" || !t.Valid() {
		return ""
	}
	return recordPrefix(t) + cs + legacyDelimiter + ns
}

// LegacyParts is a legacy key split into its segments, verbatim.
type LegacyParts struct {
	Type     Type
	Category string
	Name     string
}

// ParseLegacyKey splits master:{type}:{category}|{name}. The master: prefix
// is optional. It splits once on ':' and then once on '|'.
func ParseLegacyKey(key string) (LegacyParts, bool) {
	raw := strings.TrimPrefix(strings.TrimSpace(key), recordNamespace)
	typ, rest, ok := strings.Cut(raw, ":")
	if !ok || typ == "" {
		return LegacyParts{}, false
	}
	category, name, ok := strings.Cut(rest, legacyDelimiter)
	if !ok {
		return LegacyParts{}, false
	}
	return LegacyParts{Type: Type(typ), Category: category, Name: name}, true
}

// IsLegacyRecordKey reports whether a key under master: uses the old
// category|name layout rather than a stable id.
func IsLegacyRecordKey(key string) bool {
	return strings.HasPrefix(key, recordNamespace) && strings.Contains(key, legacyDelimiter)
}

func recordPrefix(t Type) string {
	return recordNamespace + string(t) + ":"
}

func recordKey(t Type, id string) string {
	return recordPrefix(t) + id
}

func pointerKey(legacyKey string) string {
	return pointerNamespace + legacyKey
}

func categoryKey(t Type, orgID string) string {
	if orgID == "" {
		return categoryNamespace + string(t)
	}
	return categoryNamespace + string(t) + ":" + orgID
}

func cachePrefix(t Type) string {
	return cacheNamespace + string(t) + ":"
}
