package master

import "strings"

// DefaultQualClassification is applied to qualification records that arrive
// without one.
const DefaultQualClassification = "医師"

// Contribution is one (type, category, name) discovery plus the attributes
// the contributor supplied. Empty fields leave the record untouched.
type Contribution struct {
	Type           Type     `json:"type"`
	Category       string   `json:"category"`
	Name           string   `json:"name"`
	OrganizationID string   `json:"organizationId,omitempty"`
	CanonicalName  string   `json:"canonicalName,omitempty"`
	Status         Status   `json:"status,omitempty"`
	Classification string   `json:"classification,omitempty"`
	MedicalField   string   `json:"medicalField,omitempty"`
	SortGroup      string   `json:"sortGroup,omitempty"`
	SortOrder      *float64 `json:"sortOrder,omitempty"`
	Description    string   `json:"description,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	ReferenceURL   string   `json:"referenceUrl,omitempty"`
	Source         string   `json:"source,omitempty"`
	Extensions
}

func (c *Contribution) validate() error {
	if !c.Type.Valid() {
		return invalidValue("type", string(c.Type), typeNames())
	}
	c.Category = strings.TrimSpace(c.Category)
	c.Name = strings.TrimSpace(c.Name)
	if c.Category == "" {
		return required("category")
	}
	if c.Name == "" {
		return required("name")
	}
	if _, err := ParseStatus(string(c.Status)); err != nil {
		return err
	}
	return nil
}

func setIfPresent(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// apply merges the contribution into rec.
func (c *Contribution) apply(rec *Record) {
	setIfPresent(&rec.CanonicalName, c.CanonicalName)
	if c.Status != "" {
		rec.Status = c.Status
	}
	setIfPresent(&rec.Classification, c.Classification)
	if rec.Type == TypeQual && rec.Classification == "" {
		rec.Classification = DefaultQualClassification
	}
	setIfPresent(&rec.MedicalField, c.MedicalField)
	setIfPresent(&rec.SortGroup, c.SortGroup)
	if c.SortOrder != nil {
		rec.SortOrder = cloneFloat(c.SortOrder)
	}
	setIfPresent(&rec.Notes, c.Notes)
	setIfPresent(&rec.ReferenceURL, c.ReferenceURL)

	if d := strings.TrimSpace(c.Description); d != "" {
		rec.Description = d
		rec.DescriptionSamples = prependUnique(rec.DescriptionSamples, d)
	}
	if s := strings.TrimSpace(c.Source); s != "" && !containsString(rec.Sources, s) {
		rec.Sources = append(rec.Sources, s)
	}

	ext := c.Extensions.clone()
	if ext.Symptom != nil {
		rec.Symptom = ext.Symptom
	}
	if ext.BodySite != nil {
		rec.BodySite = ext.BodySite
	}
	if ext.Qualification != nil {
		rec.Qualification = ext.Qualification
	}
	if ext.Clinical != nil {
		rec.Clinical = ext.Clinical
	}
}

// prependUnique puts s first, removing any later copy.
func prependUnique(list []string, s string) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, s)
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
