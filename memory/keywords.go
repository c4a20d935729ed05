package memory

import (
	"regexp"
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"
)

const (
	maxBaseKeywords       = 8
	maxContextualKeywords = 12
	maxTurnKeywords       = 3
	maxPresetKeywords     = 4
	maxEmotionKeywords    = 2
	maxEntityNames        = 5

	// recentTurnWindow is how many trailing conversation turns feed the
	// contextual keyword set.
	recentTurnWindow = 3
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "his": true,
	"has": true, "had": true, "have": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "them": true, "then": true,
	"what": true, "when": true, "where": true, "which": true, "their": true,
	"there": true, "these": true, "those": true, "will": true, "would": true,
	"could": true, "should": true, "been": true, "being": true, "were": true,
	"does": true, "doing": true, "about": true, "into": true, "over": true,
	"some": true, "such": true, "than": true, "very": true, "just": true,
	"like": true, "also": true, "know": true, "your": true, "yours": true,
	"mine": true, "ours": true, "him": true, "she": true, "its": true,
	"who": true, "whom": true, "why": true, "how": true, "did": true,
	"get": true, "got": true, "say": true, "said": true, "tell": true,
	"told": true, "want": true, "really": true, "thing": true, "things": true,
	"something": true, "anything": true, "everything": true, "nothing": true,
	"here": true, "because": true, "before": true, "after": true, "again": true,
	"still": true, "much": true, "more": true, "most": true, "ever": true,
	"never": true, "always": true, "going": true, "gonna": true, "yeah": true,
}

var nonWordChars = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// moodKeywords and modeKeywords translate persona-state presets into search
// terms so the retrieval surface shifts with the persona, not just the query.
var moodKeywords = map[string][]string{
	"manic":       {"chaos", "energy"},
	"melancholy":  {"regret", "memory"},
	"nostalgic":   {"childhood", "neighborhood"},
	"combative":   {"beef", "rivalry"},
	"sentimental": {"family", "loyalty"},
}

var modeKeywords = map[string][]string{
	"storytime": {"story", "lore"},
	"banter":    {"joke", "roast"},
	"interview": {"history", "opinion"},
	"stream":    {"chat", "game"},
}

// emotionPatterns map emotional tone in the query to topical keywords. Only
// the first two matches contribute.
var emotionPatterns = []struct {
	re       *regexp.Regexp
	keywords []string
}{
	{regexp.MustCompile(`(?i)\b(angry|furious|mad|pissed|hate[sd]?|feud)\b`), []string{"anger", "grudge"}},
	{regexp.MustCompile(`(?i)\b(sad|lonely|miss(es|ed|ing)?|lost|grief|crying)\b`), []string{"loss", "memory"}},
	{regexp.MustCompile(`(?i)\b(happy|excited|love[sd]?|proud|celebrat\w*)\b`), []string{"pride", "family"}},
	{regexp.MustCompile(`(?i)\b(scared|afraid|worried|nervous|anxious)\b`), []string{"fear", "trouble"}},
}

// ExtractKeywords tokenizes text into searchable keywords: lowercased,
// punctuation stripped, short tokens and stopwords dropped. Purely numeric
// tokens survive the stopword filter so years and counts stay searchable.
func ExtractKeywords(text string) []string {
	cleaned := nonWordChars.ReplaceAllString(strings.ToLower(text), "")
	seen := make(map[string]bool)
	keywords := make([]string, 0, maxBaseKeywords)
	for _, token := range strings.Fields(cleaned) {
		if len(token) <= 2 || seen[token] {
			continue
		}
		if stopwords[token] && !isNumeric(token) {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
		if len(keywords) >= maxBaseKeywords {
			break
		}
	}
	return keywords
}

// ExtractContextual widens the base keyword set with terms from recent
// conversation turns, persona presets, and emotional tone. It also returns
// the contextual query: the raw query prefixed with the most recent
// conversation line, which anchors pronouns and follow-ups for embedding.
func ExtractContextual(query string, turns []Message, opts RetrievalOptions) ([]string, string) {
	keywords := ExtractKeywords(query)
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		seen[kw] = true
	}
	add := func(candidates []string, budget int) {
		for _, kw := range candidates {
			if budget <= 0 || len(keywords) >= maxContextualKeywords {
				return
			}
			if seen[kw] {
				continue
			}
			seen[kw] = true
			keywords = append(keywords, kw)
			budget--
		}
	}

	// Most recent turns first so fresher context wins the budget.
	var turnTerms []string
	for i := len(turns) - 1; i >= 0 && i >= len(turns)-recentTurnWindow; i-- {
		turnTerms = append(turnTerms, ExtractKeywords(turns[i].Content)...)
	}
	add(turnTerms, maxTurnKeywords)

	var presetTerms []string
	presetTerms = append(presetTerms, moodKeywords[strings.ToLower(opts.Mood)]...)
	presetTerms = append(presetTerms, modeKeywords[strings.ToLower(opts.Mode)]...)
	add(presetTerms, maxPresetKeywords)

	var emotionTerms []string
	for _, pattern := range emotionPatterns {
		if len(emotionTerms) >= maxEmotionKeywords {
			break
		}
		if pattern.re.MatchString(query) {
			emotionTerms = append(emotionTerms, pattern.keywords...)
		}
	}
	add(emotionTerms, maxEmotionKeywords)

	contextualQuery := query
	if len(turns) > 0 {
		recent := strings.TrimSpace(turns[len(turns)-1].Content)
		if recent != "" && recent != strings.TrimSpace(query) {
			contextualQuery = recent + "\n" + query
		}
	}
	return keywords, contextualQuery
}

// extractEntityNames pulls candidate entity names out of a query, preferring
// the NER tagger and falling back to capitalized tokens when it finds none.
func extractEntityNames(query string) []string {
	doc, err := prose.NewDocument(query, prose.WithSegmentation(false))
	if err != nil {
		return capitalizedTokens(query)
	}
	seen := make(map[string]bool)
	var names []string
	for _, ent := range doc.Entities() {
		name := strings.TrimSpace(ent.Text)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, name)
		if len(names) >= maxEntityNames {
			break
		}
	}
	if len(names) == 0 {
		return capitalizedTokens(query)
	}
	return names
}

// capitalizedTokens is the tagger-free fallback: any capitalized word that
// is not a stopword is treated as a potential entity name.
func capitalizedTokens(query string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, raw := range strings.Fields(query) {
		token := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len(token) <= 2 {
			continue
		}
		runes := []rune(token)
		if !unicode.IsUpper(runes[0]) {
			continue
		}
		key := strings.ToLower(token)
		if stopwords[key] || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, token)
		if len(names) >= maxEntityNames {
			break
		}
	}
	return names
}

func isNumeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(token) > 0
}
