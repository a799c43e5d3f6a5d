package clustering

import (
	"math"
	"strings"
)

// Rule similarity component weights. The components are each bounded [0,1],
// so the weighted sum stays in [0,1].
const (
	categoryComponentWeight = 0.5
	keywordComponentWeight  = 0.35
	sourceComponentWeight   = 0.15
)

// CosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [0,1]. Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Centroid averages a set of equal-length vectors. Vectors with a different
// length than the first are skipped.
func Centroid(vectors [][]float32) []float32 {
	var centroid []float32
	count := 0
	for _, vec := range vectors {
		if len(vec) == 0 {
			continue
		}
		if centroid == nil {
			centroid = make([]float32, len(vec))
		}
		if len(vec) != len(centroid) {
			continue
		}
		for i, v := range vec {
			centroid[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range centroid {
		centroid[i] /= float32(count)
	}
	return centroid
}

func keywordJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := keywordSet(a)
	setB := keywordSet(b)
	intersection := 0
	for keyword := range setA {
		if setB[keyword] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func keywordSet(keywords []string) map[string]bool {
	set := make(map[string]bool, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" {
			set[keyword] = true
		}
	}
	return set
}

// ruleScore combines category match, keyword overlap, and source overlap
// into a bounded [0,1] similarity. sourceWeight scales the source component
// by the registry weight of the item's source, clamped to [0,1].
func ruleScore(itemCategory string, itemKeywords []string, itemSource string, sourceWeight float64, profile *clusterProfile) float64 {
	score := 0.0
	if itemCategory != "" && strings.EqualFold(itemCategory, profile.category) {
		score += categoryComponentWeight
	}
	score += keywordComponentWeight * keywordJaccard(itemKeywords, profile.keywords)
	if itemSource != "" && profile.sources[itemSource] {
		score += sourceComponentWeight * clamp01(sourceWeight)
	}
	return score
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// hasRuleSignal reports whether the item carries any field the rule score
// can use.
func hasRuleSignal(category string, keywords []string, source string) bool {
	return category != "" || len(keywords) > 0 || source != ""
}
