package retrieval

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "drops stop words and case",
			query: "What has Elon Musk said about AI?",
			want:  []string{"what", "elon", "musk", "said", "about", "ai"},
		},
		{
			name:  "drops single characters",
			query: "a i x robotics",
			want:  []string{"robotics"},
		},
		{
			name:  "keeps digits",
			query: "GPT4 results in 2024",
			want:  []string{"gpt4", "results", "2024"},
		},
		{
			name:  "all stop words",
			query: "the and of",
			want:  []string{},
		},
		{
			name:  "punctuation split",
			query: "o'reilly-style talk",
			want:  []string{"reilly", "style", "talk"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Tokenize(tc.query)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tc.query, got, tc.want)
			}
		})
	}
}

func TestBuildTSQueryOr(t *testing.T) {
	q, websearch := BuildTSQuery("rockets landing on mars", OperatorOr)
	if websearch {
		t.Fatal("expected explicit disjunction, not websearch parser")
	}
	if q != "rockets | landing | mars" {
		t.Fatalf("unexpected tsquery: %q", q)
	}
}

func TestBuildTSQueryOrFallsBackWhenEmpty(t *testing.T) {
	q, websearch := BuildTSQuery("the a of", OperatorOr)
	if !websearch {
		t.Fatal("expected websearch fallback for empty tokenisation")
	}
	if q != "the a of" {
		t.Fatalf("fallback must preserve raw query, got %q", q)
	}
}

func TestBuildTSQueryAndUsesWebsearch(t *testing.T) {
	q, websearch := BuildTSQuery(`"heavy booster" reuse`, OperatorAnd)
	if !websearch {
		t.Fatal("and operator must use websearch parser")
	}
	if q != `"heavy booster" reuse` {
		t.Fatalf("and operator must preserve phrases, got %q", q)
	}
}

func TestParseModeAndOperator(t *testing.T) {
	for _, s := range []string{"fts", "vector", "hybrid"} {
		if _, err := ParseMode(s); err != nil {
			t.Fatalf("ParseMode(%q) = %v", s, err)
		}
	}
	if _, err := ParseMode("graph"); err == nil {
		t.Fatal("expected error for unknown mode")
	}

	if op, err := ParseOperator(""); err != nil || op != OperatorOr {
		t.Fatalf("empty operator should default to or, got %v %v", op, err)
	}
	if _, err := ParseOperator("xor"); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}
