package agent

import (
	"context"
	"fmt"

	apperrors "github.com/sweetpotato0/transcriptqa/errors"
	"github.com/sweetpotato0/transcriptqa/store"
)

// Agent is a question-answering session: one blocking run per request.
type Agent interface {
	Run(ctx context.Context, question string, f *store.Filters) (*Response, error)
}

// Kind names an agent implementation.
type Kind string

const (
	KindVanilla    Kind = "vanilla"
	KindMultiQuery Kind = "multi-query"
)

// New builds an agent of the given kind.
func New(kind Kind, llm LLMClient, retriever Retriever, opts ...Option) (Agent, error) {
	switch kind {
	case KindVanilla:
		return NewVanilla(llm, retriever, opts...), nil
	case KindMultiQuery:
		return NewMultiQuery(llm, retriever, opts...), nil
	}
	return nil, fmt.Errorf("%w: unknown agent %q", apperrors.ErrBadInput, kind)
}
