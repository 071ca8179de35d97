package evals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sweetpotato0/transcriptqa/agent"
	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/pkg/logging"
	"github.com/sweetpotato0/transcriptqa/store"
)

// RetrievalRunConfig captures how one retrieval evaluation was executed.
type RetrievalRunConfig struct {
	AgentType     string        `json:"agent_type"`
	DatasetPath   string        `json:"dataset_path"`
	Mode          string        `json:"retrieval_mode"`
	FTSCandidates int           `json:"fts_candidates"`
	MaxReturned   int           `json:"max_returned"`
	KValues       []int         `json:"k_values"`
	NumSamples    int           `json:"num_samples"`
	Timeout       time.Duration `json:"-"`
}

// RetrievalItemResult is the outcome of evaluating one task. Failed items
// carry empty-retrieval metrics and an error string.
type RetrievalItemResult struct {
	EvalID            string                   `json:"eval_id"`
	Question          string                   `json:"question"`
	QuestionType      string                   `json:"question_type"`
	Difficulty        string                   `json:"difficulty_level"`
	ExpectedChunkIDs  []int64                  `json:"expected_chunk_ids"`
	RetrievedChunkIDs []int64                  `json:"retrieved_chunk_ids"`
	GeneratedAnswer   string                   `json:"generated_answer"`
	MetricsByK        map[int]RetrievalMetrics `json:"metrics_by_k"`
	LatencyMs         float64                  `json:"latency_ms"`
	ModelUsed         string                   `json:"model_used"`
	SubQueries        []string                 `json:"sub_queries,omitempty"`
	Success           bool                     `json:"success"`
	Error             string                   `json:"error,omitempty"`
}

// MetricsBreakdown aggregates one slice of the results at one k.
type MetricsBreakdown struct {
	Count     int          `json:"count"`
	Recall    SummaryStats `json:"recall"`
	Precision SummaryStats `json:"precision"`
	HitRate   SummaryStats `json:"hit_rate"`
	MRR       MRRStats     `json:"mrr"`
	NDCG      SummaryStats `json:"ndcg"`
	LatencyMs SummaryStats `json:"latency_ms"`
}

// RetrievalRunResults is everything one run produced.
type RetrievalRunResults struct {
	RunID          string                              `json:"run_id"`
	Config         RetrievalRunConfig                  `json:"config"`
	DatasetVersion string                              `json:"dataset_version"`
	StartedAt      time.Time                           `json:"started_at"`
	CompletedAt    time.Time                           `json:"completed_at"`
	TotalExamples  int                                 `json:"total_examples"`
	NumSuccessful  int                                 `json:"num_successful"`
	NumFailed      int                                 `json:"num_failed"`
	Results        []RetrievalItemResult               `json:"results"`
	OverallByK     map[int]MetricsBreakdown            `json:"overall_by_k"`
	ByDifficulty   map[string]map[int]MetricsBreakdown `json:"by_difficulty"`
	ByQuestionType map[string]map[int]MetricsBreakdown `json:"by_question_type"`
	Errors         []RunError                          `json:"errors"`
}

// RunError flags a failed item in the error list.
type RunError struct {
	EvalID string `json:"eval_id"`
	Error  string `json:"error"`
}

// RetrievalRunner drives an agent over a retrieval dataset and scores the
// retrieved chunk IDs against ground truth.
type RetrievalRunner struct {
	agent    agent.Agent
	config   RetrievalRunConfig
	logger   *slog.Logger
	progress bool
}

// NewRetrievalRunner creates a runner for the given agent and configuration.
func NewRetrievalRunner(ag agent.Agent, cfg RetrievalRunConfig) *RetrievalRunner {
	if len(cfg.KValues) == 0 {
		cfg.KValues = []int{5, 10, 15}
	}
	return &RetrievalRunner{
		agent:    ag,
		config:   cfg,
		logger:   logging.WithComponent("evals-retrieval"),
		progress: true,
	}
}

// DisableProgress turns the terminal progress bar off, for tests and CI logs.
func (r *RetrievalRunner) DisableProgress() {
	r.progress = false
}

// Run evaluates every task. Item failures never abort the batch.
func (r *RetrievalRunner) Run(ctx context.Context, tasks []RetrievalTask, datasetVersion string) (*RetrievalRunResults, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks to evaluate", apperrors.ErrBadInput)
	}

	var bar *progressbar.ProgressBar
	if r.progress {
		bar = progressbar.Default(int64(len(tasks)), "evaluating "+r.config.AgentType)
	}

	started := time.Now()
	results := make([]RetrievalItemResult, 0, len(tasks))
	for _, task := range tasks {
		results = append(results, r.runItem(ctx, task))
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	completed := time.Now()

	run := &RetrievalRunResults{
		RunID:          NewRunID(),
		Config:         r.config,
		DatasetVersion: datasetVersion,
		StartedAt:      started,
		CompletedAt:    completed,
		TotalExamples:  len(results),
		Results:        results,
		OverallByK:     map[int]MetricsBreakdown{},
		ByDifficulty:   map[string]map[int]MetricsBreakdown{},
		ByQuestionType: map[string]map[int]MetricsBreakdown{},
	}
	for _, res := range results {
		if res.Success {
			run.NumSuccessful++
		} else {
			run.NumFailed++
			run.Errors = append(run.Errors, RunError{EvalID: res.EvalID, Error: res.Error})
		}
	}

	for _, k := range r.config.KValues {
		run.OverallByK[k] = buildBreakdown(results, k)
	}
	for _, slice := range []struct {
		target map[string]map[int]MetricsBreakdown
		key    func(RetrievalItemResult) string
	}{
		{run.ByDifficulty, func(res RetrievalItemResult) string { return res.Difficulty }},
		{run.ByQuestionType, func(res RetrievalItemResult) string { return res.QuestionType }},
	} {
		for _, res := range results {
			key := slice.key(res)
			if key == "" {
				continue
			}
			if _, ok := slice.target[key]; ok {
				continue
			}
			group := filterResults(results, slice.key, key)
			byK := make(map[int]MetricsBreakdown, len(r.config.KValues))
			for _, k := range r.config.KValues {
				byK[k] = buildBreakdown(group, k)
			}
			slice.target[key] = byK
		}
	}

	r.logger.Info("retrieval evaluation complete",
		"run_id", run.RunID,
		"total", run.TotalExamples,
		"successful", run.NumSuccessful,
		"failed", run.NumFailed,
		"duration_s", completed.Sub(started).Seconds())
	return run, nil
}

func (r *RetrievalRunner) runItem(ctx context.Context, task RetrievalTask) RetrievalItemResult {
	res := RetrievalItemResult{
		EvalID:           task.ID,
		Question:         task.Question,
		QuestionType:     task.QuestionType,
		Difficulty:       task.Difficulty,
		ExpectedChunkIDs: task.SourceChunkIDs,
		MetricsByK:       map[int]RetrievalMetrics{},
	}

	itemCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.agent.Run(itemCtx, task.Question, nil)
	if err != nil {
		if errors.Is(err, apperrors.ErrTimeout) || errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
			res.Error = "timeout"
		} else {
			res.Error = err.Error()
		}
		r.logger.Error("eval item failed", "eval_id", task.ID, "error", err)
		for _, k := range r.config.KValues {
			res.MetricsByK[k] = ComputeRetrievalMetrics(nil, task.SourceChunkIDs, k)
		}
		return res
	}

	res.Success = true
	res.GeneratedAnswer = resp.Answer
	res.ModelUsed = resp.Model
	res.SubQueries = resp.SubQueries
	res.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	res.RetrievedChunkIDs = chunkIDs(resp.RetrievedChunks)
	for _, k := range r.config.KValues {
		res.MetricsByK[k] = ComputeRetrievalMetrics(res.RetrievedChunkIDs, task.SourceChunkIDs, k)
	}
	return res
}

func chunkIDs(chunks []store.ChunkHit) []int64 {
	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}
	return ids
}

func filterResults(results []RetrievalItemResult, key func(RetrievalItemResult) string, want string) []RetrievalItemResult {
	out := make([]RetrievalItemResult, 0, len(results))
	for _, res := range results {
		if key(res) == want {
			out = append(out, res)
		}
	}
	return out
}

// buildBreakdown aggregates one result slice at one k. Failed items carry
// their empty-retrieval metrics into the aggregates but contribute no
// latency observation.
func buildBreakdown(results []RetrievalItemResult, k int) MetricsBreakdown {
	var (
		recalls, precisions, hits, ndcgs, latencies []float64
		mrrs                                        []*float64
	)
	for _, res := range results {
		m, ok := res.MetricsByK[k]
		if !ok {
			continue
		}
		recalls = append(recalls, m.RecallAtK)
		precisions = append(precisions, m.PrecisionAtK)
		hits = append(hits, m.HitRate)
		ndcgs = append(ndcgs, m.NDCGAtK)
		mrrs = append(mrrs, m.MRR)
		if res.Success {
			latencies = append(latencies, res.LatencyMs)
		}
	}
	return MetricsBreakdown{
		Count:     len(recalls),
		Recall:    Summarize(recalls),
		Precision: Summarize(precisions),
		HitRate:   Summarize(hits),
		MRR:       SummarizeMRR(mrrs),
		NDCG:      Summarize(ndcgs),
		LatencyMs: Summarize(latencies),
	}
}
