package evals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
)

// NewRunID returns a sortable run identifier: a timestamp prefix plus a short
// random suffix to disambiguate runs started in the same second.
func NewRunID() string {
	return time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// WriteJSON serialises a run result to <dir>/<runID>.json and returns the
// written path.
func WriteJSON(dir, runID string, v any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create output dir %s: %v", apperrors.ErrInternal, dir, err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal run results: %v", apperrors.ErrInternal, err)
	}
	path := filepath.Join(dir, runID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", apperrors.ErrInternal, path, err)
	}
	return path, nil
}

// WriteRetrievalMarkdown renders a human-readable report next to the JSON
// results and returns the written path.
func WriteRetrievalMarkdown(dir string, run *RetrievalRunResults) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create output dir %s: %v", apperrors.ErrInternal, dir, err)
	}
	path := filepath.Join(dir, run.RunID+".md")
	if err := os.WriteFile(path, []byte(renderRetrievalMarkdown(run)), 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", apperrors.ErrInternal, path, err)
	}
	return path, nil
}

func renderRetrievalMarkdown(run *RetrievalRunResults) string {
	var b strings.Builder
	ks := sortedKs(run.OverallByK)

	fmt.Fprintf(&b, "# Retrieval Evaluation Report\n\n")
	fmt.Fprintf(&b, "**Run ID:** %s\n\n", run.RunID)
	fmt.Fprintf(&b, "**Date:** %s\n\n", run.StartedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&b, "## Configuration\n\n")
	fmt.Fprintf(&b, "- **Agent:** %s\n", run.Config.AgentType)
	fmt.Fprintf(&b, "- **Dataset:** %s (version %s)\n", run.Config.DatasetPath, run.DatasetVersion)
	fmt.Fprintf(&b, "- **Retrieval mode:** %s\n", run.Config.Mode)
	fmt.Fprintf(&b, "- **FTS candidates:** %d\n", run.Config.FTSCandidates)
	fmt.Fprintf(&b, "- **Max returned:** %d\n", run.Config.MaxReturned)
	fmt.Fprintf(&b, "- **K values:** %s\n\n", joinInts(ks))

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "- **Total examples:** %d\n", run.TotalExamples)
	fmt.Fprintf(&b, "- **Successful:** %d\n", run.NumSuccessful)
	fmt.Fprintf(&b, "- **Failed:** %d\n", run.NumFailed)
	fmt.Fprintf(&b, "- **Duration:** %.1fs\n\n", run.CompletedAt.Sub(run.StartedAt).Seconds())

	fmt.Fprintf(&b, "## Overall Metrics\n\n")
	b.WriteString("| k | Recall | Precision | Hit Rate | MRR | NDCG |\n")
	b.WriteString("|---|--------|-----------|----------|-----|------|\n")
	for _, k := range ks {
		m := run.OverallByK[k]
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			k,
			meanStd(m.Recall),
			meanStd(m.Precision),
			meanStd(m.HitRate),
			meanStd(m.MRR.SummaryStats),
			meanStd(m.NDCG))
	}
	b.WriteString("\n")

	if len(ks) > 0 {
		lat := run.OverallByK[ks[0]].LatencyMs
		fmt.Fprintf(&b, "## Latency\n\n")
		fmt.Fprintf(&b, "- **Mean:** %.1fms\n", lat.Mean)
		fmt.Fprintf(&b, "- **Median:** %.1fms\n", lat.Median)
		fmt.Fprintf(&b, "- **Min:** %.1fms\n", lat.Min)
		fmt.Fprintf(&b, "- **Max:** %.1fms\n\n", lat.Max)
	}

	writeGroupSection(&b, "By Difficulty", run.ByDifficulty, ks,
		[]string{"easy", "medium", "hard"})
	writeGroupSection(&b, "By Question Type", run.ByQuestionType, ks,
		[]string{"factual", "analytical", "opinion"})

	if len(run.Errors) > 0 {
		fmt.Fprintf(&b, "## Failed Examples\n\n")
		for _, e := range run.Errors {
			fmt.Fprintf(&b, "- **%s**: %s\n", e.EvalID, e.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// writeGroupSection renders one breakdown table at the first k, ordering the
// well-known groups first and appending any others alphabetically.
func writeGroupSection(b *strings.Builder, title string, groups map[string]map[int]MetricsBreakdown, ks []int, preferred []string) {
	if len(groups) == 0 || len(ks) == 0 {
		return
	}
	k := ks[0]

	names := make([]string, 0, len(groups))
	seen := map[string]bool{}
	for _, name := range preferred {
		if _, ok := groups[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(groups))
	for name := range groups {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	fmt.Fprintf(b, "## %s\n\n", title)
	fmt.Fprintf(b, "| Group | Count | Recall@%d | Precision@%d | Hit Rate@%d | NDCG@%d |\n", k, k, k, k)
	b.WriteString("|-------|-------|--------|-----------|----------|------|\n")
	for _, name := range names {
		m := groups[name][k]
		fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s |\n",
			name, m.Count, meanStd(m.Recall), meanStd(m.Precision), meanStd(m.HitRate), meanStd(m.NDCG))
	}
	b.WriteString("\n")
}

// WriteToolParamsMarkdown renders a human-readable filter-extraction report
// and returns the written path.
func WriteToolParamsMarkdown(dir string, run *ToolParamsRunResults) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create output dir %s: %v", apperrors.ErrInternal, dir, err)
	}
	path := filepath.Join(dir, run.RunID+".md")
	if err := os.WriteFile(path, []byte(renderToolParamsMarkdown(run)), 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", apperrors.ErrInternal, path, err)
	}
	return path, nil
}

func renderToolParamsMarkdown(run *ToolParamsRunResults) string {
	var b strings.Builder
	m := run.Metrics

	fmt.Fprintf(&b, "# Tool Parameter Extraction Report\n\n")
	fmt.Fprintf(&b, "**Run ID:** %s\n\n", run.RunID)
	fmt.Fprintf(&b, "**Date:** %s\n\n", run.StartedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "- **Total cases:** %d\n", m.TotalCases)
	fmt.Fprintf(&b, "- **Passed:** %d\n", m.Passed)
	fmt.Fprintf(&b, "- **Failed:** %d\n", m.Failed)
	fmt.Fprintf(&b, "- **Errors:** %d\n", m.Errors)
	fmt.Fprintf(&b, "- **Overall accuracy:** %.1f%%\n", m.OverallAccuracy*100)
	fmt.Fprintf(&b, "- **Avg latency:** %.1fms\n\n", m.AvgLatencyMs)

	fmt.Fprintf(&b, "## Per-Filter Metrics\n\n")
	b.WriteString("| Filter | Accuracy | Precision | Recall | F1 | TP | TN | FP | FN |\n")
	b.WriteString("|--------|----------|-----------|--------|----|----|----|----|----|\n")
	for _, field := range filterFields {
		fm := m.FilterMetrics[field]
		fmt.Fprintf(&b, "| %s | %.3f | %.3f | %.3f | %.3f | %d | %d | %d | %d |\n",
			field, fm.Accuracy, fm.Precision, fm.Recall, fm.F1,
			fm.TruePositives, fm.TrueNegatives, fm.FalsePositives, fm.FalseNegatives)
	}
	b.WriteString("\n")

	if len(m.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(m.CategoryMetrics))
		for name := range m.CategoryMetrics {
			cats = append(cats, name)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "## By Category\n\n")
		b.WriteString("| Category | Total | Passed | Failed | Errors | Pass Rate |\n")
		b.WriteString("|----------|-------|--------|--------|--------|-----------|\n")
		for _, name := range cats {
			cm := m.CategoryMetrics[name]
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %.1f%% |\n",
				name, cm.TotalCases, cm.Passed, cm.Failed, cm.Errors, cm.PassRate*100)
		}
		b.WriteString("\n")
	}

	var failed []ToolParamsResult
	for _, res := range run.Results {
		if !res.OverallMatch {
			failed = append(failed, res)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "## Failed Cases\n\n")
		for _, res := range failed {
			fmt.Fprintf(&b, "### %s (%s)\n\n", res.CaseID, res.Category)
			fmt.Fprintf(&b, "- **Query:** %s\n", res.Query)
			if res.Error != "" {
				fmt.Fprintf(&b, "- **Error:** %s\n", res.Error)
			} else {
				for _, field := range filterFields {
					if res.FilterMatches[field] {
						continue
					}
					fmt.Fprintf(&b, "- **%s:** expected %q, got %q\n",
						field, expectedValue(res.Expected, field), res.Actual[field])
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func meanStd(s SummaryStats) string {
	if s.Count == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.3f ± %.3f", s.Mean, s.Std)
}

func sortedKs(byK map[int]MetricsBreakdown) []int {
	ks := make([]int, 0, len(byK))
	for k := range byK {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	return ks
}

func joinInts(ks []int) string {
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = fmt.Sprintf("%d", k)
	}
	return strings.Join(parts, ", ")
}
