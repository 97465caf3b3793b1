package master

import (
	"math"

	"github.com/medterm/masterdata/internal/textnorm"
)

// DefaultSimilarityThreshold is the score at which two names are flagged.
const DefaultSimilarityThreshold = 0.92

// JaroWinkler scores two strings in [0,1] by runes. The Winkler bonus uses
// a common prefix of at most four runes with a 0.1 scaling factor.
func JaroWinkler(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	if a == b {
		return 1
	}

	window := max(len(ra), len(rb))/2 - 1
	if window < 0 {
		window = 0
	}
	aMatch := make([]bool, len(ra))
	bMatch := make([]bool, len(rb))
	matches := 0
	for i := range ra {
		lo := max(0, i-window)
		hi := min(i+window+1, len(rb))
		for j := lo; j < hi; j++ {
			if bMatch[j] || ra[i] != rb[j] {
				continue
			}
			aMatch[i], bMatch[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range ra {
		if !aMatch[i] {
			continue
		}
		for !bMatch[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	jaro := (m/float64(len(ra)) + m/float64(len(rb)) + (m-float64(transpositions)/2)/m) / 3

	prefix := 0
	for i := 0; i < min(4, len(ra), len(rb)); i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// FindSimilar annotates every active record with the other active records
// whose normalized display name scores at or above threshold. It only sets
// SimilarMatches and never changes anything else.
func FindSimilar(records []*Record, threshold float64) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	type entry struct {
		rec  *Record
		norm string
	}
	entries := make([]entry, 0, len(records))
	for _, r := range records {
		r.SimilarMatches = nil
		if !r.Status.Active() {
			continue
		}
		if n := textnorm.Similarity(r.DisplayName()); n != "" {
			entries = append(entries, entry{rec: r, norm: n})
		}
	}

	for i := range entries {
		for j := range entries {
			if i == j || entries[i].rec.Type != entries[j].rec.Type {
				continue
			}
			score := JaroWinkler(entries[i].norm, entries[j].norm)
			if score < threshold {
				continue
			}
			other := entries[j].rec
			entries[i].rec.SimilarMatches = append(entries[i].rec.SimilarMatches, SimilarMatch{
				ID:            other.ID,
				Name:          other.Name,
				CanonicalName: other.CanonicalName,
				Status:        other.Status,
				Similarity:    round3(score),
			})
		}
	}
}
