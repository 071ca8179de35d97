package errors

import "errors"

// Sentinel errors for the error kinds the service distinguishes. Callers wrap
// them with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrBadInput indicates a malformed request: unknown agent, unknown
	// retrieval mode, out-of-range bounds.
	ErrBadInput = errors.New("bad input")

	// ErrStoreUnavailable indicates a transient connection or query failure
	// against the store. Retriable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBadQuery indicates a malformed query sent to the store. Fatal.
	ErrBadQuery = errors.New("bad store query")

	// ErrConstraintViolation indicates a store integrity violation. Fatal.
	ErrConstraintViolation = errors.New("store constraint violation")

	// ErrEmbedderUnavailable indicates an upstream embedding provider
	// failure. Retriable.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")

	// ErrEmbedderProtocol indicates the embedding provider returned a
	// malformed response, such as a vector of the wrong dimension.
	ErrEmbedderProtocol = errors.New("embedder protocol error")

	// ErrLLMUnavailable indicates an upstream LLM provider failure.
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrTimeout indicates the request exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrToolInputRejected indicates a tool call carried unusable arguments,
	// such as an empty sub-query list. Rendered back to the model as a tool
	// result so it can retry within the same conversation.
	ErrToolInputRejected = errors.New("tool input rejected")

	// ErrInternal indicates a defensive invariant check failed.
	ErrInternal = errors.New("internal error")
)
