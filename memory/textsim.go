package memory

import (
	"sort"
	"strings"
)

// Combined-metric weights. Word overlap carries the most signal for short
// fact statements; edit distance and containment split the remainder.
const (
	jaccardWeight     = 0.4
	levenshteinWeight = 0.3
	containmentWeight = 0.3

	fingerprintWords     = 10
	minSharedSignificant = 2
	significantWordLen   = 2 // strictly longer than
)

// TextSimilarity scores two contents in [0,1] without embeddings:
// 0.4*Jaccard + 0.3*normalized Levenshtein + 0.3*containment, all computed
// over the normalized forms.
func TextSimilarity(a, b string) float64 {
	na, nb := NormalizeContent(a), NormalizeContent(b)
	wordsA, wordsB := strings.Fields(cleanForTokens(na)), strings.Fields(cleanForTokens(nb))
	setA, setB := wordSet(wordsA), wordSet(wordsB)

	score := jaccardWeight * jaccard(setA, setB)
	score += levenshteinWeight * levenshteinSimilarity(na, nb)
	score += containmentWeight * containment(setA, setB)
	return score
}

func cleanForTokens(normalized string) string {
	return nonWordChars.ReplaceAllString(normalized, "")
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	shared := 0
	for w := range a {
		if b[w] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 1
	}
	return float64(shared) / float64(union)
}

func levenshteinSimilarity(a, b string) float64 {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(matrix[i-1][j]+1, matrix[i][j-1]+1, matrix[i-1][j-1]+cost)
		}
	}
	return matrix[len(a)][len(b)]
}

// containment measures what fraction of the sparser side's significant words
// appear in the other, so a fact restated with extra detail still reads as
// the same fact. The shared count over the smaller significant set is the
// same regardless of argument order, which keeps the metric symmetric.
func containment(setA, setB map[string]bool) float64 {
	sigA := significantCount(setA)
	sigB := significantCount(setB)
	denom := min(sigA, sigB)
	if denom == 0 {
		return 1
	}
	found := 0
	for w := range setA {
		if len(w) > significantWordLen && setB[w] {
			found++
		}
	}
	return float64(found) / float64(denom)
}

func significantCount(set map[string]bool) int {
	n := 0
	for w := range set {
		if len(w) > significantWordLen {
			n++
		}
	}
	return n
}

// fingerprint buckets facts for text scans: the ten longest significant
// words of the normalized content, sorted alphabetically. Ties on length are
// broken alphabetically so the fingerprint is stable.
func fingerprint(content string) string {
	words := significantWords(content)
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	if len(words) > fingerprintWords {
		words = words[:fingerprintWords]
	}
	sort.Strings(words)
	return strings.Join(words, " ")
}

func significantWords(content string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.Fields(cleanForTokens(NormalizeContent(content))) {
		if len(w) <= significantWordLen || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	return words
}

func sharedSignificant(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	shared := 0
	for _, w := range b {
		if set[w] {
			shared++
		}
	}
	return shared
}

// FindTextDuplicates groups near-identical facts by text alone, covering
// facts that never received an embedding. Facts sharing a fingerprint bucket
// are compared pairwise after a cheap shared-word prefilter; each fact joins
// at most one group, claimed by the earliest seed.
func FindTextDuplicates(facts []Fact, threshold float64) []DuplicateGroup {
	words := make([][]string, len(facts))
	buckets := make(map[string][]int)
	order := make([]string, 0)
	for i := range facts {
		words[i] = significantWords(facts[i].Content)
		fp := fingerprint(facts[i].Content)
		if _, ok := buckets[fp]; !ok {
			order = append(order, fp)
		}
		buckets[fp] = append(buckets[fp], i)
	}

	claimed := make([]bool, len(facts))
	var groups []DuplicateGroup
	for _, fp := range order {
		members := buckets[fp]
		for mi, i := range members {
			if claimed[i] {
				continue
			}
			var duplicates []Fact
			for _, j := range members[mi+1:] {
				if claimed[j] {
					continue
				}
				if sharedSignificant(words[i], words[j]) < minSharedSignificant {
					continue
				}
				if TextSimilarity(facts[i].Content, facts[j].Content) >= threshold {
					duplicates = append(duplicates, facts[j])
					claimed[j] = true
				}
			}
			if len(duplicates) == 0 {
				continue
			}
			claimed[i] = true
			group := BuildGroup(facts[i], duplicates)
			if len(group.Duplicates) == 0 {
				continue
			}
			groups = append(groups, group)
		}
	}
	return groups
}
