// Command harness runs the offline evaluation suites against a live store
// and LLM provider.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/transcriptqa/agent"
	"github.com/sweetpotato0/transcriptqa/config"
	"github.com/sweetpotato0/transcriptqa/embedding"
	"github.com/sweetpotato0/transcriptqa/evals"
	anthropicprovider "github.com/sweetpotato0/transcriptqa/provider/anthropic"
	openaiprovider "github.com/sweetpotato0/transcriptqa/provider/openai"
	"github.com/sweetpotato0/transcriptqa/retrieval"
	"github.com/sweetpotato0/transcriptqa/store"
)

// minToolParamsAccuracy is the release gate for filter extraction.
const minToolParamsAccuracy = 0.8

type harnessFlags struct {
	evalType      string
	agentKind     string
	dataset       string
	numSamples    int
	kValues       []int
	mode          string
	ftsCandidates int
	maxReturned   int
	outputDir     string
	timeout       time.Duration
	category      string
	caseID        string
}

func main() {
	var flags harnessFlags

	cmd := &cobra.Command{
		Use:           "harness",
		Short:         "Offline evaluation harness for retrieval quality and filter extraction",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch flags.evalType {
			case "retrieval":
				return runRetrievalEval(cmd, flags)
			case "tool-params":
				return runToolParamsEval(cmd, flags)
			default:
				return fmt.Errorf("unknown eval type %q: want retrieval or tool-params", flags.evalType)
			}
		},
	}

	cmd.Flags().StringVar(&flags.evalType, "eval-type", "retrieval", "evaluation suite: retrieval or tool-params")
	cmd.Flags().StringVar(&flags.agentKind, "agent", "multi-query", "agent under test: vanilla or multi-query")
	cmd.Flags().StringVar(&flags.dataset, "dataset", "", "dataset JSON path")
	cmd.Flags().IntVar(&flags.numSamples, "num-samples", 0, "evaluate only the first N examples (0 = all)")
	cmd.Flags().IntSliceVar(&flags.kValues, "k", nil, "k values for retrieval metrics (default 5,10,15)")
	cmd.Flags().StringVar(&flags.mode, "mode", "hybrid", "retrieval mode: fts, vector or hybrid")
	cmd.Flags().IntVar(&flags.ftsCandidates, "fts-candidates", 0, "FTS candidate pool size for hybrid mode")
	cmd.Flags().IntVar(&flags.maxReturned, "max-returned", 15, "chunks returned to the model per run")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "eval_results", "directory for JSON and markdown reports")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "per-item timeout")
	cmd.Flags().StringVar(&flags.category, "category", "", "tool-params: run only this category")
	cmd.Flags().StringVar(&flags.caseID, "case", "", "tool-params: run only this case ID")
	_ = cmd.MarkFlagRequired("dataset")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runRetrievalEval(cmd *cobra.Command, flags harnessFlags) error {
	ds, err := evals.LoadRetrievalDataset(flags.dataset)
	if err != nil {
		return err
	}
	tasks := ds.Sample(flags.numSamples)

	st, retr, llm, err := buildStack(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	ag, err := agent.New(agent.Kind(flags.agentKind), llm, retr,
		agent.WithMaxReturned(flags.maxReturned))
	if err != nil {
		return err
	}

	runner := evals.NewRetrievalRunner(ag, evals.RetrievalRunConfig{
		AgentType:     flags.agentKind,
		DatasetPath:   flags.dataset,
		Mode:          flags.mode,
		FTSCandidates: flags.ftsCandidates,
		MaxReturned:   flags.maxReturned,
		KValues:       flags.kValues,
		NumSamples:    len(tasks),
		Timeout:       flags.timeout,
	})
	run, err := runner.Run(cmd.Context(), tasks, ds.Version)
	if err != nil {
		return err
	}

	jsonPath, err := evals.WriteJSON(flags.outputDir, run.RunID, run)
	if err != nil {
		return err
	}
	mdPath, err := evals.WriteRetrievalMarkdown(flags.outputDir, run)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d/%d successful\n", run.RunID, run.NumSuccessful, run.TotalExamples)
	fmt.Println("results:", jsonPath)
	fmt.Println("report: ", mdPath)
	if run.NumSuccessful == 0 {
		return fmt.Errorf("all %d examples failed", run.TotalExamples)
	}
	return nil
}

func runToolParamsEval(cmd *cobra.Command, flags harnessFlags) error {
	ds, err := evals.LoadToolParamsDataset(flags.dataset)
	if err != nil {
		return err
	}
	cases := ds.Filter(flags.category, flags.caseID)

	st, retr, llm, err := buildStack(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	harness := evals.NewToolParamsHarness(llm, retr)
	run, err := harness.Run(cmd.Context(), cases)
	if err != nil {
		return err
	}

	jsonPath, err := evals.WriteJSON(flags.outputDir, run.RunID, run)
	if err != nil {
		return err
	}
	mdPath, err := evals.WriteToolParamsMarkdown(flags.outputDir, run)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d/%d passed, accuracy %.1f%%\n",
		run.RunID, run.Metrics.Passed, run.Metrics.TotalCases, run.Metrics.OverallAccuracy*100)
	fmt.Println("results:", jsonPath)
	fmt.Println("report: ", mdPath)
	if run.Metrics.OverallAccuracy < minToolParamsAccuracy {
		return fmt.Errorf("overall accuracy %.1f%% below the %.0f%% gate",
			run.Metrics.OverallAccuracy*100, minToolParamsAccuracy*100)
	}
	return nil
}

// buildStack opens the store and constructs the retriever and LLM client the
// evaluations share.
func buildStack(flags harnessFlags) (*store.Store, retrieval.Retriever, agent.LLMClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(cfg.DSN(), store.WithDefaultSpeaker(cfg.DefaultSpeaker))
	if err != nil {
		return nil, nil, nil, err
	}

	mode, err := retrieval.ParseMode(flags.mode)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	embedder := embedding.NewOpenAI(cfg.OpenAIAPIKey, "", cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	retr, err := retrieval.New(mode, st, embedder, retrieval.Options{FTSCandidates: flags.ftsCandidates})
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}

	var llm agent.LLMClient
	if strings.HasPrefix(strings.ToLower(cfg.ChatModel), "claude") {
		llm = anthropicprovider.New(anthropicprovider.Config{APIKey: cfg.AnthropicAPIKey, Model: cfg.ChatModel})
	} else {
		llm = openaiprovider.New(openaiprovider.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.ChatModel})
	}
	return st, retr, llm, nil
}
