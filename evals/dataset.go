package evals

import (
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
)

// RetrievalTask is one curated question with ground-truth chunk IDs.
type RetrievalTask struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	ReferenceAnswer string   `json:"reference_answer"`
	ExpectedSecs    []string `json:"expected_sections,omitempty"`
	SourceChunkIDs  []int64  `json:"source_chunk_ids"`
	Difficulty      string   `json:"difficulty_level"`
	QuestionType    string   `json:"question_type"`
}

// RetrievalDataset is the versioned collection of retrieval tasks.
type RetrievalDataset struct {
	Version     string          `json:"version"`
	Description string          `json:"description"`
	CreatedAt   string          `json:"created_at"`
	Examples    []RetrievalTask `json:"examples"`
}

// LoadRetrievalDataset reads and validates a retrieval dataset file.
func LoadRetrievalDataset(path string) (*RetrievalDataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read dataset %s: %v", apperrors.ErrBadInput, path, err)
	}
	var ds RetrievalDataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("%w: parse dataset %s: %v", apperrors.ErrBadInput, path, err)
	}
	if len(ds.Examples) == 0 {
		return nil, fmt.Errorf("%w: dataset %s has no examples", apperrors.ErrBadInput, path)
	}
	for i, ex := range ds.Examples {
		if ex.ID == "" || ex.Question == "" {
			return nil, fmt.Errorf("%w: dataset example %d missing id or question", apperrors.ErrBadInput, i)
		}
	}
	return &ds, nil
}

// Sample returns the first n examples, or all of them when n <= 0 or exceeds
// the dataset size.
func (d *RetrievalDataset) Sample(n int) []RetrievalTask {
	if n <= 0 || n >= len(d.Examples) {
		return d.Examples
	}
	return d.Examples[:n]
}

// ExpectedFilters are the filter values a query should make the agent bind.
// Empty means the filter must not be applied.
type ExpectedFilters struct {
	Speaker   string `json:"speaker,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Source    string `json:"source,omitempty"`
	DocType   string `json:"doc_type,omitempty"`
}

// ToolParamsCase is one filter-extraction test case.
type ToolParamsCase struct {
	ID              string          `json:"id"`
	Query           string          `json:"query"`
	Category        string          `json:"category"`
	ExpectedFilters ExpectedFilters `json:"expected_filters"`
}

// ToolParamsDataset is the versioned collection of filter-extraction cases.
type ToolParamsDataset struct {
	Version     string           `json:"version"`
	Description string           `json:"description"`
	Cases       []ToolParamsCase `json:"cases"`
}

// LoadToolParamsDataset reads and validates a tool-parameter dataset file.
func LoadToolParamsDataset(path string) (*ToolParamsDataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read dataset %s: %v", apperrors.ErrBadInput, path, err)
	}
	var ds ToolParamsDataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("%w: parse dataset %s: %v", apperrors.ErrBadInput, path, err)
	}
	if len(ds.Cases) == 0 {
		return nil, fmt.Errorf("%w: dataset %s has no cases", apperrors.ErrBadInput, path)
	}
	return &ds, nil
}

// Filter narrows the cases by category and/or case ID; empty selectors match
// everything.
func (d *ToolParamsDataset) Filter(category, caseID string) []ToolParamsCase {
	out := make([]ToolParamsCase, 0, len(d.Cases))
	for _, c := range d.Cases {
		if category != "" && c.Category != category {
			continue
		}
		if caseID != "" && c.ID != caseID {
			continue
		}
		out = append(out, c)
	}
	return out
}
