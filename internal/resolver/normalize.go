package resolver

import "strings"

// interrogatives are kept as a chunk opener even though they are stop
// words, but only as the leading token of a query.
var interrogatives = map[string]struct{}{
	"who": {}, "what": {}, "where": {}, "when": {}, "why": {}, "how": {}, "which": {},
}

// stopWords is the filtered vocabulary for chunking. Interrogatives appear
// here too; the leading-token exception is applied during tokenization.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"then": {}, "else": {}, "of": {}, "at": {}, "by": {}, "for": {}, "with": {},
	"about": {}, "against": {}, "between": {}, "into": {}, "through": {},
	"during": {}, "before": {}, "after": {}, "above": {}, "below": {},
	"to": {}, "from": {}, "up": {}, "down": {}, "in": {}, "out": {}, "on": {},
	"off": {}, "over": {}, "under": {}, "again": {}, "further": {}, "once": {},
	"here": {}, "there": {}, "all": {}, "any": {}, "both": {}, "each": {},
	"few": {}, "more": {}, "most": {}, "other": {}, "some": {}, "such": {},
	"no": {}, "nor": {}, "not": {}, "only": {}, "own": {}, "same": {},
	"so": {}, "than": {}, "too": {}, "very": {}, "can": {}, "will": {},
	"just": {}, "should": {}, "now": {}, "i": {}, "me": {}, "my": {},
	"we": {}, "our": {}, "you": {}, "your": {}, "he": {}, "him": {},
	"his": {}, "she": {}, "her": {}, "it": {}, "its": {}, "they": {},
	"them": {}, "their": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "am": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"having": {}, "do": {}, "does": {}, "did": {}, "doing": {}, "would": {},
	"could": {}, "ought": {}, "as": {}, "until": {}, "while": {},
	"who": {}, "whom": {}, "what": {}, "which": {}, "when": {},
	"where": {}, "why": {}, "how": {}, "show": {}, "get": {}, "give": {},
	"list": {}, "find": {}, "tell": {},
}

// token is one whitespace-delimited word of the normalized query, with
// byte offsets into the normalized string.
type token struct {
	text  string
	start int
	end   int
	kept  bool
}

// normalize lower-cases the query, replaces every character outside the
// word, apostrophe and hyphen classes with a space and collapses runs of
// whitespace. It returns the normalized string and its tokens with exact
// offsets.
func normalize(query string) (string, []token) {
	lowered := strings.ToLower(query)

	var b strings.Builder
	b.Grow(len(lowered))
	lastSpace := true
	for _, r := range lowered {
		switch {
		case r == '\'' || r == '-' || r == '_' || isWordRune(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	normalized := strings.TrimRight(b.String(), " ")

	var tokens []token
	pos := 0
	for pos < len(normalized) {
		for pos < len(normalized) && normalized[pos] == ' ' {
			pos++
		}
		start := pos
		for pos < len(normalized) && normalized[pos] != ' ' {
			pos++
		}
		if pos > start {
			tokens = append(tokens, token{
				text:  normalized[start:pos],
				start: start,
				end:   pos,
			})
		}
	}
	return normalized, tokens
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= '0' && r <= '9') ||
		r > 127 // keep non-ASCII letters intact
}

// markKept applies stop-word filtering in place. A leading interrogative
// is retained despite being a stop word.
func markKept(tokens []token) {
	for i := range tokens {
		word := tokens[i].text
		if _, stop := stopWords[word]; !stop {
			tokens[i].kept = true
			continue
		}
		if _, q := interrogatives[word]; q && i == 0 {
			tokens[i].kept = true
		}
	}
}
