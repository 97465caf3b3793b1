package master

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ExplanationStatus string

const (
	ExplanationDraft     ExplanationStatus = "draft"
	ExplanationPublished ExplanationStatus = "published"
	ExplanationArchived  ExplanationStatus = "archived"
)

var explanationStatuses = []string{string(ExplanationDraft), string(ExplanationPublished), string(ExplanationArchived)}

// MaxExplanationVersions bounds the history kept per explanation.
const MaxExplanationVersions = 20

func parseExplanationStatus(s string) (ExplanationStatus, error) {
	switch ExplanationStatus(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case ExplanationDraft:
		return ExplanationDraft, nil
	case ExplanationPublished:
		return ExplanationPublished, nil
	case ExplanationArchived:
		return ExplanationArchived, nil
	}
	return "", invalidValue("explanation.status", s, explanationStatuses)
}

// Explanation is a free-text description attached to a record. Text is
// unique within a record.
type Explanation struct {
	ID        string               `json:"id"`
	Text      string               `json:"text"`
	Status    ExplanationStatus    `json:"status"`
	Audience  string               `json:"audience,omitempty"`
	Context   string               `json:"context,omitempty"`
	Source    string               `json:"source,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Versions  []ExplanationVersion `json:"versions,omitempty"`
}

// ExplanationVersion is a snapshot taken before an edit.
type ExplanationVersion struct {
	Text      string            `json:"text"`
	Status    ExplanationStatus `json:"status"`
	Audience  string            `json:"audience,omitempty"`
	Context   string            `json:"context,omitempty"`
	Source    string            `json:"source,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (e Explanation) clone() Explanation {
	if e.Versions != nil {
		e.Versions = append([]ExplanationVersion(nil), e.Versions...)
	}
	return e
}

func (e *Explanation) snapshot() ExplanationVersion {
	return ExplanationVersion{
		Text: e.Text, Status: e.Status, Audience: e.Audience,
		Context: e.Context, Source: e.Source, UpdatedAt: e.UpdatedAt,
	}
}

// pushVersion appends the current state to the history, then trims it.
func (e *Explanation) pushVersion() {
	e.Versions = append(e.Versions, e.snapshot())
	if n := len(e.Versions); n > MaxExplanationVersions {
		e.Versions = append([]ExplanationVersion(nil), e.Versions[n-MaxExplanationVersions:]...)
	}
}

// ExplanationInput is the payload of addExplanation.
type ExplanationInput struct {
	Text     string `json:"text"`
	Status   string `json:"status,omitempty"`
	Audience string `json:"audience,omitempty"`
	Context  string `json:"context,omitempty"`
	Source   string `json:"source,omitempty"`
}

// ExplanationPatch edits an explanation; nil fields are left alone.
type ExplanationPatch struct {
	Text     *string `json:"text,omitempty"`
	Status   *string `json:"status,omitempty"`
	Audience *string `json:"audience,omitempty"`
	Context  *string `json:"context,omitempty"`
	Source   *string `json:"source,omitempty"`
}

func newExplanationID() string {
	return "exp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func fillEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// AddExplanation appends an explanation to rec, or merges it into an
// existing one with identical text. It reports whether a merge happened.
func AddExplanation(rec *Record, in ExplanationInput, now time.Time) (*Explanation, bool, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, false, required("explanation.text")
	}
	status, err := parseExplanationStatus(in.Status)
	if err != nil {
		return nil, false, err
	}
	audience := strings.TrimSpace(in.Audience)
	ctxText := strings.TrimSpace(in.Context)
	source := strings.TrimSpace(in.Source)

	for i := range rec.Explanations {
		e := &rec.Explanations[i]
		if e.Text != text {
			continue
		}
		next := *e
		fillEmpty(&next.Audience, audience)
		fillEmpty(&next.Context, ctxText)
		fillEmpty(&next.Source, source)
		if status == ExplanationPublished {
			next.Status = ExplanationPublished
		}
		if !next.snapshotEqual(e) {
			e.pushVersion()
			e.Status, e.Audience, e.Context, e.Source = next.Status, next.Audience, next.Context, next.Source
		}
		e.UpdatedAt = now
		syncDescription(rec)
		out := e.clone()
		return &out, true, nil
	}

	if status == "" {
		status = ExplanationDraft
	}
	rec.Explanations = append(rec.Explanations, Explanation{
		ID:        newExplanationID(),
		Text:      text,
		Status:    status,
		Audience:  audience,
		Context:   ctxText,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	})
	syncDescription(rec)
	out := rec.Explanations[len(rec.Explanations)-1].clone()
	return &out, false, nil
}

func findExplanation(rec *Record, id string) int {
	for i := range rec.Explanations {
		if rec.Explanations[i].ID == id {
			return i
		}
	}
	return -1
}

// UpdateExplanation applies patch to the explanation with the given id,
// recording the previous state in its history.
func UpdateExplanation(rec *Record, id string, patch ExplanationPatch, now time.Time) (*Explanation, error) {
	idx := findExplanation(rec, id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	e := &rec.Explanations[idx]

	next := *e
	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return nil, required("explanation.text")
		}
		for i := range rec.Explanations {
			if i != idx && rec.Explanations[i].Text == text {
				return nil, &ValidationError{Field: "explanation.text", Message: "duplicates another explanation"}
			}
		}
		next.Text = text
	}
	if patch.Status != nil {
		status, err := parseExplanationStatus(*patch.Status)
		if err != nil {
			return nil, err
		}
		if status != "" {
			next.Status = status
		}
	}
	if patch.Audience != nil {
		next.Audience = strings.TrimSpace(*patch.Audience)
	}
	if patch.Context != nil {
		next.Context = strings.TrimSpace(*patch.Context)
	}
	if patch.Source != nil {
		next.Source = strings.TrimSpace(*patch.Source)
	}

	if next.snapshotEqual(e) {
		out := e.clone()
		return &out, nil
	}
	e.pushVersion()
	e.Text, e.Status, e.Audience, e.Context, e.Source = next.Text, next.Status, next.Audience, next.Context, next.Source
	e.UpdatedAt = now
	syncDescription(rec)
	out := e.clone()
	return &out, nil
}

func (e *Explanation) snapshotEqual(o *Explanation) bool {
	return e.Text == o.Text && e.Status == o.Status && e.Audience == o.Audience &&
		e.Context == o.Context && e.Source == o.Source
}

// RemoveExplanation drops the explanation with the given id. The
// description projection keeps whatever it already holds.
func RemoveExplanation(rec *Record, id string) error {
	idx := findExplanation(rec, id)
	if idx < 0 {
		return ErrNotFound
	}
	rec.Explanations = append(rec.Explanations[:idx:idx], rec.Explanations[idx+1:]...)
	return nil
}

// syncDescription keeps description and descriptionSamples in step with the
// explanation set for readers that predate explanations.
func syncDescription(rec *Record) {
	for _, e := range rec.Explanations {
		if !containsString(rec.DescriptionSamples, e.Text) {
			rec.DescriptionSamples = append(rec.DescriptionSamples, e.Text)
		}
	}
	if strings.TrimSpace(rec.Description) != "" || len(rec.Explanations) == 0 {
		return
	}
	for _, e := range rec.Explanations {
		if e.Status == ExplanationPublished {
			rec.Description = e.Text
			return
		}
	}
	rec.Description = rec.Explanations[0].Text
}
