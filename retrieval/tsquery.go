package retrieval

import (
	"regexp"
	"strings"
)

// stopWords is the common English closed class that Postgres FTS drops
// anyway; removing them up front keeps to_tsquery inputs well formed.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"not": {}, "but": {}, "they": {}, "have": {}, "been": {}, "would": {},
	"could": {}, "should": {}, "their": {}, "there": {},
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// Tokenize splits a query into lower-cased alphanumeric terms with stop words
// and single-character terms removed.
func Tokenize(query string) []string {
	words := wordPattern.FindAllString(strings.ToLower(query), -1)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// BuildTSQuery compiles a user query for the given operator. It returns the
// query text and whether the store should parse it with the web-search
// parser (phrase preserving) instead of to_tsquery.
//
// "or" builds an explicit disjunction of the tokenised terms; when
// tokenisation yields nothing it falls back to the web-search parser on the
// raw query. "and" always uses the web-search parser, which conjoins terms
// and preserves quoted phrases.
func BuildTSQuery(query string, op Operator) (string, bool) {
	if op == OperatorAnd {
		return query, true
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return query, true
	}
	return strings.Join(terms, " | "), false
}
