package retrieval

// Options carries the per-request tunables the factory forwards to the
// chosen retriever.
type Options struct {
	Operator      Operator
	FTSCandidates int
}

// New builds a retriever for the given mode.
func New(mode Mode, st Store, emb Embedder, opts Options) (Retriever, error) {
	op := opts.Operator
	if op == "" {
		op = OperatorOr
	}
	candidates := opts.FTSCandidates
	if candidates == 0 {
		candidates = DefaultFTSCandidates
	}

	switch mode {
	case ModeFTS:
		return NewFTS(st, WithFTSOperator(op)), nil
	case ModeVector:
		return NewVector(st, emb), nil
	case ModeHybrid:
		return NewHybrid(st, emb, WithFTSCandidates(candidates), WithHybridOperator(op))
	}
	_, err := ParseMode(string(mode))
	return nil, err
}
