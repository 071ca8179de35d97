package evals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sweetpotato0/transcriptqa/agent"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/message"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/store"
	"github.com/sweetpotato0/transcriptqa/tool"
)

// filterFields are the filter parameters scored by this evaluation.
var filterFields = []string{"speaker", "start_date", "end_date", "source", "doc_type"}

const toolParamsSystemPrompt = `You answer questions using a knowledge base of podcast transcripts.

Always call search_knowledge_base before answering. When the user asks about what a specific person said, thought or discussed, pass that person's name as the speaker parameter. When the user mentions specific dates or years, bind start_date and end_date accordingly ("in 2024" means start_date=2024-01-01 and end_date=2024-12-31). When no specific person is mentioned, do not use the speaker filter. Base your answer only on the retrieved information.`

// ToolParamsResult is the outcome of one filter-extraction case.
type ToolParamsResult struct {
	CaseID        string            `json:"case_id"`
	Query         string            `json:"query"`
	Category      string            `json:"category"`
	Expected      ExpectedFilters   `json:"expected_filters"`
	Actual        map[string]string `json:"actual_filters"`
	FilterMatches map[string]bool   `json:"filter_matches"`
	OverallMatch  bool              `json:"overall_match"`
	Answer        string            `json:"answer,omitempty"`
	LatencyMs     float64           `json:"latency_ms"`
	Error         string            `json:"error,omitempty"`
}

// FilterMetrics scores one filter field across all cases.
type FilterMetrics struct {
	FilterName     string  `json:"filter_name"`
	TruePositives  int     `json:"true_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	Accuracy       float64 `json:"accuracy"`
	F1             float64 `json:"f1_score"`
}

// CategoryMetrics is the pass rate of one test category.
type CategoryMetrics struct {
	Category   string  `json:"category"`
	TotalCases int     `json:"total_cases"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Errors     int     `json:"errors"`
	PassRate   float64 `json:"pass_rate"`
}

// ToolParamsMetrics aggregates one filter-extraction run.
type ToolParamsMetrics struct {
	TotalCases      int                        `json:"total_cases"`
	Passed          int                        `json:"passed"`
	Failed          int                        `json:"failed"`
	Errors          int                        `json:"errors"`
	OverallAccuracy float64                    `json:"overall_accuracy"`
	FilterMetrics   map[string]FilterMetrics   `json:"filter_metrics"`
	CategoryMetrics map[string]CategoryMetrics `json:"category_metrics"`
	AvgLatencyMs    float64                    `json:"avg_latency_ms"`
}

// ToolParamsRunResults is everything one run produced.
type ToolParamsRunResults struct {
	RunID       string             `json:"run_id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Results     []ToolParamsResult `json:"results"`
	Metrics     ToolParamsMetrics  `json:"metrics"`
}

// ToolParamsHarness runs the model against a filter-aware retrieval tool and
// captures the parameters it binds.
type ToolParamsHarness struct {
	llm           agent.LLMClient
	retriever     agent.Retriever
	retrievalN    int
	maxIterations int
	logger        *slog.Logger
	progress      bool
}

// NewToolParamsHarness creates the harness.
func NewToolParamsHarness(llm agent.LLMClient, retriever agent.Retriever) *ToolParamsHarness {
	return &ToolParamsHarness{
		llm:           llm,
		retriever:     retriever,
		retrievalN:    5,
		maxIterations: 5,
		logger:        logging.WithComponent("evals-toolparams"),
		progress:      true,
	}
}

// DisableProgress turns the terminal progress bar off.
func (h *ToolParamsHarness) DisableProgress() {
	h.progress = false
}

// Run evaluates every case. Case failures never abort the batch.
func (h *ToolParamsHarness) Run(ctx context.Context, cases []ToolParamsCase) (*ToolParamsRunResults, error) {
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: no cases to evaluate", apperrors.ErrBadInput)
	}

	var bar *progressbar.ProgressBar
	if h.progress {
		bar = progressbar.Default(int64(len(cases)), "evaluating filter extraction")
	}

	started := time.Now()
	results := make([]ToolParamsResult, 0, len(cases))
	for _, c := range cases {
		results = append(results, h.runCase(ctx, c))
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	completed := time.Now()

	run := &ToolParamsRunResults{
		RunID:       NewRunID(),
		StartedAt:   started,
		CompletedAt: completed,
		Results:     results,
		Metrics:     ComputeToolParamsMetrics(results),
	}
	h.logger.Info("tool-params evaluation complete",
		"run_id", run.RunID,
		"total", run.Metrics.TotalCases,
		"passed", run.Metrics.Passed,
		"overall_accuracy", run.Metrics.OverallAccuracy)
	return run, nil
}

func (h *ToolParamsHarness) runCase(ctx context.Context, c ToolParamsCase) ToolParamsResult {
	res := ToolParamsResult{
		CaseID:   c.ID,
		Query:    c.Query,
		Category: c.Category,
		Expected: c.ExpectedFilters,
		Actual:   map[string]string{},
	}

	start := time.Now()
	captured := map[string]string{}
	searchTool := h.searchTool(captured)
	registry := tool.NewRegistry()
	if err := registry.Register(searchTool); err != nil {
		res.Error = err.Error()
		return res
	}
	schemas := registry.ToJSONSchemas()

	messages := []*message.Message{
		message.New(message.RoleSystem, toolParamsSystemPrompt),
		message.New(message.RoleUser, c.Query),
	}

	for iteration := 0; iteration < h.maxIterations; iteration++ {
		result, err := h.llm.Chat(ctx, messages, schemas)
		if err != nil {
			res.Error = err.Error()
			res.LatencyMs = sinceMs(start)
			return res
		}
		messages = append(messages, result.Message)

		if len(result.Message.ToolCalls) == 0 {
			res.Answer = result.Message.Content
			res.Actual = captured
			res.FilterMatches, res.OverallMatch = CompareFilters(c.ExpectedFilters, captured)
			res.LatencyMs = sinceMs(start)
			return res
		}

		for _, tc := range result.Message.ToolCalls {
			t, err := registry.Get(tc.Name)
			var content string
			if err != nil {
				content = fmt.Sprintf("Error executing tool %s: %v", tc.Name, err)
			} else if content, err = t.Execute(ctx, tc.Args); err != nil {
				content = fmt.Sprintf("Error executing tool %s: %v", tc.Name, err)
			}
			messages = append(messages, message.NewToolResponse(tc.ID, content))
		}
	}

	res.Error = fmt.Sprintf("no final answer after %d iterations", h.maxIterations)
	res.LatencyMs = sinceMs(start)
	return res
}

// searchTool builds the filter-aware retrieval tool. Bound filter values are
// recorded into captured before the retrieval runs.
func (h *ToolParamsHarness) searchTool(captured map[string]string) *tool.Tool {
	return &tool.Tool{
		Name:        "search_knowledge_base",
		Description: "Search the knowledge base for relevant passages. Results can be filtered by speaker name, date range, source or document type.",
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "The search query.", Required: true},
			{Name: "speaker", Type: "string", Description: "Filter by speaker name, e.g. \"Elon Musk\". Use when the user asks about a specific person."},
			{Name: "start_date", Type: "string", Description: "Only return results published on or after this date (YYYY-MM-DD)."},
			{Name: "end_date", Type: "string", Description: "Only return results published before this date (YYYY-MM-DD)."},
			{Name: "source", Type: "string", Description: "Filter by source, e.g. \"youtube\"."},
			{Name: "doc_type", Type: "string", Description: "Filter by document type, e.g. \"transcript\"."},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			for _, field := range filterFields {
				if v, ok := args[field].(string); ok && strings.TrimSpace(v) != "" {
					captured[field] = v
				}
			}

			f := &store.Filters{
				Source:  captured["source"],
				DocType: captured["doc_type"],
				Speaker: captured["speaker"],
			}
			if t, err := time.Parse("2006-01-02", captured["start_date"]); err == nil {
				f.StartDate = &t
			}
			if t, err := time.Parse("2006-01-02", captured["end_date"]); err == nil {
				f.EndDate = &t
			}

			resp, err := h.retriever.Retrieve(ctx, query, h.retrievalN, f)
			if err != nil {
				return fmt.Sprintf("Error retrieving information: %v", err), nil
			}
			if len(resp.Chunks) == 0 {
				return "No relevant information found in the knowledge base.", nil
			}

			parts := make([]string, len(resp.Chunks))
			for i, chunk := range resp.Chunks {
				parts[i] = fmt.Sprintf("[Source %d: %s - %s]\n%s",
					i+1, chunk.Meta.Title, chunk.Meta.Speaker, chunk.Text)
			}
			return strings.Join(parts, "\n\n---\n\n"), nil
		},
	}
}

// CompareFilters scores bound filters against expectations. Absent on both
// sides counts as correct; string fields match on case-insensitive substring
// in either direction; date fields match on the four-character year prefix.
func CompareFilters(expected ExpectedFilters, actual map[string]string) (map[string]bool, bool) {
	expectedByField := map[string]string{
		"speaker":    expected.Speaker,
		"start_date": expected.StartDate,
		"end_date":   expected.EndDate,
		"source":     expected.Source,
		"doc_type":   expected.DocType,
	}

	matches := make(map[string]bool, len(filterFields))
	overall := true
	for _, field := range filterFields {
		exp := normalizeFilterValue(expectedByField[field])
		act := normalizeFilterValue(actual[field])

		var ok bool
		switch {
		case exp == "" && act == "":
			ok = true
		case exp == "" || act == "":
			ok = false
		case field == "start_date" || field == "end_date":
			ok = yearPrefix(exp) == yearPrefix(act)
		default:
			ok = strings.Contains(exp, act) || strings.Contains(act, exp)
		}
		matches[field] = ok
		overall = overall && ok
	}
	return matches, overall
}

// ComputeToolParamsMetrics aggregates a run. Errored cases count toward the
// totals but not toward per-filter confusion counts.
func ComputeToolParamsMetrics(results []ToolParamsResult) ToolParamsMetrics {
	metrics := ToolParamsMetrics{
		TotalCases:      len(results),
		FilterMetrics:   map[string]FilterMetrics{},
		CategoryMetrics: map[string]CategoryMetrics{},
	}

	latencySum := 0.0
	for _, res := range results {
		latencySum += res.LatencyMs

		cat := metrics.CategoryMetrics[res.Category]
		cat.Category = res.Category
		cat.TotalCases++
		switch {
		case res.Error != "":
			metrics.Errors++
			cat.Errors++
			cat.Failed++
		case res.OverallMatch:
			metrics.Passed++
			cat.Passed++
		default:
			metrics.Failed++
			cat.Failed++
		}
		metrics.CategoryMetrics[res.Category] = cat
	}

	for name, cat := range metrics.CategoryMetrics {
		if cat.TotalCases > 0 {
			cat.PassRate = float64(cat.Passed) / float64(cat.TotalCases)
		}
		metrics.CategoryMetrics[name] = cat
	}
	if metrics.TotalCases > 0 {
		metrics.OverallAccuracy = float64(metrics.Passed) / float64(metrics.TotalCases)
		metrics.AvgLatencyMs = latencySum / float64(metrics.TotalCases)
	}

	for _, field := range filterFields {
		metrics.FilterMetrics[field] = computeFilterMetrics(field, results)
	}
	return metrics
}

func computeFilterMetrics(field string, results []ToolParamsResult) FilterMetrics {
	fm := FilterMetrics{FilterName: field}
	for _, res := range results {
		if res.Error != "" {
			continue
		}
		exp := expectedValue(res.Expected, field) != ""
		act := res.Actual[field] != ""
		switch {
		case exp && act:
			if res.FilterMatches[field] {
				fm.TruePositives++
			} else {
				fm.FalsePositives++
			}
		case !exp && !act:
			fm.TrueNegatives++
		case exp && !act:
			fm.FalseNegatives++
		default:
			fm.FalsePositives++
		}
	}

	total := fm.TruePositives + fm.TrueNegatives + fm.FalsePositives + fm.FalseNegatives
	if total > 0 {
		fm.Accuracy = float64(fm.TruePositives+fm.TrueNegatives) / float64(total)
	}
	if fm.TruePositives+fm.FalsePositives > 0 {
		fm.Precision = float64(fm.TruePositives) / float64(fm.TruePositives+fm.FalsePositives)
	}
	if fm.TruePositives+fm.FalseNegatives > 0 {
		fm.Recall = float64(fm.TruePositives) / float64(fm.TruePositives+fm.FalseNegatives)
	}
	if fm.Precision+fm.Recall > 0 {
		fm.F1 = 2 * fm.Precision * fm.Recall / (fm.Precision + fm.Recall)
	}
	return fm
}

func expectedValue(e ExpectedFilters, field string) string {
	switch field {
	case "speaker":
		return e.Speaker
	case "start_date":
		return e.StartDate
	case "end_date":
		return e.EndDate
	case "source":
		return e.Source
	case "doc_type":
		return e.DocType
	}
	return ""
}

func normalizeFilterValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func yearPrefix(v string) string {
	if len(v) < 4 {
		return v
	}
	return v[:4]
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
