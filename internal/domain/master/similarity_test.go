package master

import (
	"math"
	"testing"
)

func TestJaroWinkler_Properties(t *testing.T) {
	words := []string{"高血圧", "高血圧症", "糖尿病", "martha", "marhta", "dixon", "dicksonx", "a", "cbc"}
	for _, a := range words {
		if got := JaroWinkler(a, a); got != 1 {
			t.Errorf("JaroWinkler(%q,%q) = %v, want 1", a, a, got)
		}
		for _, b := range words {
			if x, y := JaroWinkler(a, b), JaroWinkler(b, a); math.Abs(x-y) > 1e-12 {
				t.Errorf("asymmetric for %q/%q: %v vs %v", a, b, x, y)
			}
			if s := JaroWinkler(a, b); s < 0 || s > 1 {
				t.Errorf("out of range for %q/%q: %v", a, b, s)
			}
		}
	}
	if got := JaroWinkler("abc", "xyz"); got != 0 {
		t.Errorf("disjoint alphabets should score 0, got %v", got)
	}
	if got := JaroWinkler("", "abc"); got != 0 {
		t.Errorf("empty input should score 0, got %v", got)
	}
}

func TestJaroWinkler_KnownValues(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"martha", "marhta", 0.961},
		{"dwayne", "duane", 0.84},
		{"高血圧", "高血圧症", 0.942},
		{"高血圧", "糖尿病", 0},
	}
	for _, tt := range tests {
		if got := round3(JaroWinkler(tt.a, tt.b)); got != tt.want {
			t.Errorf("JaroWinkler(%q,%q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFindSimilar(t *testing.T) {
	a := &Record{ID: "a", Type: TypeSymptom, Name: "高血圧", Status: StatusCandidate}
	b := &Record{ID: "b", Type: TypeSymptom, Name: "高血圧症", Status: StatusApproved}
	c := &Record{ID: "c", Type: TypeSymptom, Name: "糖尿病", Status: StatusCandidate}
	FindSimilar([]*Record{a, b, c}, DefaultSimilarityThreshold)

	if len(a.SimilarMatches) != 1 || a.SimilarMatches[0].ID != "b" {
		t.Fatalf("expected a to match b, got %+v", a.SimilarMatches)
	}
	if len(b.SimilarMatches) != 1 || b.SimilarMatches[0].ID != "a" {
		t.Fatalf("expected b to match a, got %+v", b.SimilarMatches)
	}
	if len(c.SimilarMatches) != 0 {
		t.Errorf("expected no matches for c, got %+v", c.SimilarMatches)
	}
	if a.SimilarMatches[0].Similarity != 0.942 {
		t.Errorf("expected similarity rounded to 0.942, got %v", a.SimilarMatches[0].Similarity)
	}
	if a.Name != "高血圧" || a.Status != StatusCandidate {
		t.Error("FindSimilar must not mutate record fields")
	}
}

func TestFindSimilar_UsesCanonicalAndSkipsArchived(t *testing.T) {
	a := &Record{ID: "a", Type: TypeTest, Name: "x", CanonicalName: "ＣＢＣ（全血）", Status: StatusCandidate}
	b := &Record{ID: "b", Type: TypeTest, Name: "CBC 全血", Status: StatusCandidate}
	c := &Record{ID: "c", Type: TypeTest, Name: "CBC全血", Status: StatusArchived}
	FindSimilar([]*Record{a, b, c}, 0.92)

	if len(a.SimilarMatches) != 1 || a.SimilarMatches[0].ID != "b" || a.SimilarMatches[0].Similarity != 1 {
		t.Errorf("expected exact normalized match with b only, got %+v", a.SimilarMatches)
	}
	if c.SimilarMatches != nil {
		t.Errorf("archived records are not annotated, got %+v", c.SimilarMatches)
	}
}
