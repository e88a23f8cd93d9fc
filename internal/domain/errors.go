package domain

import "fmt"

// Sentinel errors for the memory core. Wrap with
// fmt.Errorf("%w: detail: %v", sentinel, err) so callers can errors.Is.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrInvalidRecord = fmt.Errorf("invalid record")

	// Embedding validation failures. These are recorded as "unindexed"
	// rather than propagated as a failure of store().
	ErrInvalidEmbedding = fmt.Errorf("invalid embedding")

	// Collaborator failures.
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
	ErrProviderTimeout     = fmt.Errorf("provider timed out")
	ErrEmbeddingFailed     = fmt.Errorf("embedding generation failed")

	// Persistence gateway failures. A failed write leaves the in-memory
	// table and index untouched.
	ErrStorageUnavailable = fmt.Errorf("storage unavailable")
	ErrWriteConflict      = fmt.Errorf("write conflict")

	// ErrIndexCorruption signals a slot/record mapping disagreement. It is
	// never swallowed: writes halt until a rebuild restores the invariant.
	ErrIndexCorruption = fmt.Errorf("index corruption")

	// ErrWritesHalted is returned by write operations after corruption has
	// been detected and before a successful rebuild.
	ErrWritesHalted = fmt.Errorf("writes halted pending rebuild: %w", ErrIndexCorruption)
)

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling idiomatic use: return domain.WrapOp("store.retrieve", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
