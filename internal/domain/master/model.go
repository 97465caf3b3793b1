package master

import (
	"strings"
	"time"
)

// Type is one of the closed set of taxonomy kinds.
type Type string

const (
	TypeService    Type = "service"
	TypeTest       Type = "test"
	TypeQual       Type = "qual"
	TypeDepartment Type = "department"
	TypeFacility   Type = "facility"
	TypeSymptom    Type = "symptom"
	TypeBodySite   Type = "bodySite"
	TypeSociety    Type = "society"
)

// Types lists every valid taxonomy type in display order.
var Types = []Type{
	TypeService, TypeTest, TypeQual, TypeDepartment,
	TypeFacility, TypeSymptom, TypeBodySite, TypeSociety,
}

func (t Type) Valid() bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

func typeNames() []string {
	out := make([]string, len(Types))
	for i, t := range Types {
		out[i] = string(t)
	}
	return out
}

// ParseType validates s against the closed type set.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", invalidValue("type", s, typeNames())
	}
	return t, nil
}

// Status is the review lifecycle of a record. Any transition is allowed.
type Status string

const (
	StatusCandidate Status = "candidate"
	StatusApproved  Status = "approved"
	StatusArchived  Status = "archived"
)

var statuses = []string{string(StatusCandidate), string(StatusApproved), string(StatusArchived)}

// ParseStatus validates s; the empty string is allowed and means "unset".
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	switch Status(s) {
	case "", StatusCandidate, StatusApproved, StatusArchived:
		return Status(s), nil
	}
	return "", invalidValue("status", s, statuses)
}

// Active reports whether a record participates in duplicate detection.
func (s Status) Active() bool {
	return s != StatusArchived
}

// Record is the canonical master entity.
type Record struct {
	ID                 string        `json:"id"`
	Type               Type          `json:"type"`
	OrganizationID     string        `json:"organizationId,omitempty"`
	Category           string        `json:"category"`
	Name               string        `json:"name"`
	CanonicalName      string        `json:"canonicalName,omitempty"`
	Status             Status        `json:"status"`
	Classification     string        `json:"classification,omitempty"`
	MedicalField       string        `json:"medicalField,omitempty"`
	SortGroup          string        `json:"sortGroup,omitempty"`
	SortOrder          *float64      `json:"sortOrder,omitempty"`
	Description        string        `json:"description,omitempty"`
	DescriptionSamples []string      `json:"descriptionSamples,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	ReferenceURL       string        `json:"referenceUrl,omitempty"`
	UsageCount         int           `json:"usageCount"`
	Sources            []string      `json:"sources,omitempty"`
	LegacyKey          string        `json:"legacyKey,omitempty"`
	LegacyAliases      []string      `json:"legacyAliases,omitempty"`
	ComparableKey      string        `json:"comparableKey,omitempty"`
	NormalizedName     string        `json:"normalizedName,omitempty"`
	NormalizedCategory string        `json:"normalizedCategory,omitempty"`
	Explanations       []Explanation `json:"explanations,omitempty"`
	Extensions
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// SimilarMatches is computed on demand and never persisted.
	SimilarMatches []SimilarMatch `json:"similarMatches,omitempty"`
}

// DisplayName is the canonical name when set, the name otherwise.
func (r *Record) DisplayName() string {
	if r.CanonicalName != "" {
		return r.CanonicalName
	}
	return r.Name
}

// Clone returns a deep copy suitable for mutation.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.SortOrder = cloneFloat(r.SortOrder)
	c.DescriptionSamples = cloneStrings(r.DescriptionSamples)
	c.Sources = cloneStrings(r.Sources)
	c.LegacyAliases = cloneStrings(r.LegacyAliases)
	c.SimilarMatches = nil
	if r.Explanations != nil {
		c.Explanations = make([]Explanation, len(r.Explanations))
		for i, e := range r.Explanations {
			c.Explanations[i] = e.clone()
		}
	}
	c.Extensions = r.Extensions.clone()
	return &c
}

// Extensions holds the type-specific attributes. At most one variant is set
// and it always matches the record's Type.
type Extensions struct {
	Symptom       *SymptomAttrs       `json:"symptom,omitempty"`
	BodySite      *BodySiteAttrs      `json:"bodySite,omitempty"`
	Qualification *QualificationAttrs `json:"qualification,omitempty"`
	Clinical      *ClinicalAttrs      `json:"clinical,omitempty"`
}

type SymptomAttrs struct {
	PatientLabel    string   `json:"patientLabel,omitempty"`
	Synonyms        []string `json:"synonyms,omitempty"`
	BodySiteRefs    []string `json:"bodySiteRefs,omitempty"`
	SeverityTags    []string `json:"severityTags,omitempty"`
	ICD10           []string `json:"icd10,omitempty"`
	DefaultServices []string `json:"defaultServices,omitempty"`
	DefaultTests    []string `json:"defaultTests,omitempty"`
	ThesaurusRefs   []string `json:"thesaurusRefs,omitempty"`
}

type Laterality string

const (
	LateralityNone      Laterality = "none"
	LateralityLeft      Laterality = "left"
	LateralityRight     Laterality = "right"
	LateralityBilateral Laterality = "bilateral"
)

type BodySiteAttrs struct {
	PatientLabel     string     `json:"patientLabel,omitempty"`
	AnatomicalSystem string     `json:"anatomicalSystem,omitempty"`
	Laterality       Laterality `json:"laterality,omitempty"`
	ParentKey        string     `json:"parentKey,omitempty"`
	Synonyms         []string   `json:"synonyms,omitempty"`
	ThesaurusRefs    []string   `json:"thesaurusRefs,omitempty"`
}

type QualificationAttrs struct {
	Issuer            string `json:"issuer,omitempty"`
	QualificationCode string `json:"qualificationCode,omitempty"`
}

// ClinicalAttrs applies to test and service records.
type ClinicalAttrs struct {
	Code            string   `json:"code,omitempty"`
	Unit            string   `json:"unit,omitempty"`
	Synonyms        []string `json:"synonyms,omitempty"`
	DefaultTests    []string `json:"defaultTests,omitempty"`
	DefaultServices []string `json:"defaultServices,omitempty"`
}

func (e Extensions) clone() Extensions {
	var out Extensions
	if e.Symptom != nil {
		s := *e.Symptom
		s.Synonyms = cloneStrings(s.Synonyms)
		s.BodySiteRefs = cloneStrings(s.BodySiteRefs)
		s.SeverityTags = cloneStrings(s.SeverityTags)
		s.ICD10 = cloneStrings(s.ICD10)
		s.DefaultServices = cloneStrings(s.DefaultServices)
		s.DefaultTests = cloneStrings(s.DefaultTests)
		s.ThesaurusRefs = cloneStrings(s.ThesaurusRefs)
		out.Symptom = &s
	}
	if e.BodySite != nil {
		b := *e.BodySite
		b.Synonyms = cloneStrings(b.Synonyms)
		b.ThesaurusRefs = cloneStrings(b.ThesaurusRefs)
		out.BodySite = &b
	}
	if e.Qualification != nil {
		q := *e.Qualification
		out.Qualification = &q
	}
	if e.Clinical != nil {
		c := *e.Clinical
		c.Synonyms = cloneStrings(c.Synonyms)
		c.DefaultTests = cloneStrings(c.DefaultTests)
		c.DefaultServices = cloneStrings(c.DefaultServices)
		out.Clinical = &c
	}
	return out
}

// forType keeps only the variant that belongs to t and normalizes it.
func (e Extensions) forType(t Type) Extensions {
	var out Extensions
	switch t {
	case TypeSymptom:
		if s := e.Symptom; s != nil {
			c := *s
			c.Synonyms = uniqueTrimmed(c.Synonyms)
			c.BodySiteRefs = uniqueTrimmed(c.BodySiteRefs)
			c.SeverityTags = uniqueTrimmed(c.SeverityTags)
			c.ICD10 = upperCodes(c.ICD10)
			c.DefaultServices = uniqueTrimmed(c.DefaultServices)
			c.DefaultTests = uniqueTrimmed(c.DefaultTests)
			c.ThesaurusRefs = uniqueTrimmed(c.ThesaurusRefs)
			out.Symptom = &c
		}
	case TypeBodySite:
		if b := e.BodySite; b != nil {
			c := *b
			c.Laterality = normalizeLaterality(c.Laterality)
			c.Synonyms = uniqueTrimmed(c.Synonyms)
			c.ThesaurusRefs = uniqueTrimmed(c.ThesaurusRefs)
			out.BodySite = &c
		}
	case TypeQual:
		if q := e.Qualification; q != nil {
			c := *q
			out.Qualification = &c
		}
	case TypeTest, TypeService:
		if cl := e.Clinical; cl != nil {
			c := *cl
			c.Synonyms = uniqueTrimmed(c.Synonyms)
			c.DefaultTests = uniqueTrimmed(c.DefaultTests)
			c.DefaultServices = uniqueTrimmed(c.DefaultServices)
			out.Clinical = &c
		}
	}
	return out
}

func normalizeLaterality(l Laterality) Laterality {
	switch Laterality(strings.ToLower(strings.TrimSpace(string(l)))) {
	case LateralityLeft:
		return LateralityLeft
	case LateralityRight:
		return LateralityRight
	case LateralityBilateral:
		return LateralityBilateral
	case "":
		return ""
	default:
		return LateralityNone
	}
}

func upperCodes(codes []string) []string {
	out := uniqueTrimmed(codes)
	for i, c := range out {
		out[i] = strings.ToUpper(c)
	}
	return uniqueTrimmed(out)
}

// LegacyPointer redirects a legacy composite key to a stable id.
type LegacyPointer struct {
	LegacyKey string    `json:"legacyKey"`
	Type      Type      `json:"type"`
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Category  string    `json:"category,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SimilarMatch is an advisory near-duplicate annotation.
type SimilarMatch struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CanonicalName string  `json:"canonicalName,omitempty"`
	Status        Status  `json:"status"`
	Similarity    float64 `json:"similarity"`
}

// ListFilter narrows listByType.
type ListFilter struct {
	Status         Status `json:"status,omitempty"`
	Category       string `json:"category,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// WriteOptions tunes Store.Write.
type WriteOptions struct {
	SkipAliasPointers bool
}

// WriteResult reports partial-store failures that did not fail the write.
type WriteResult struct {
	Degraded bool `json:"degraded"`
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// uniqueTrimmed trims entries, drops empties and keeps the first occurrence.
func uniqueTrimmed(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
