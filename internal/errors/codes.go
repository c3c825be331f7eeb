package errors

// Error codes. The numeric-free scheme keeps codes grep-able and stable across
// releases; never reuse a code for a different meaning.
const (
	// ErrCodeDimensionMismatch indicates an embedding vector length disagrees
	// with the engine's configured dimension. Fatal for that upsert: the vector
	// is rejected, never truncated or padded.
	ErrCodeDimensionMismatch = "ERR_DIMENSION_MISMATCH"

	// ErrCodeEmbeddingUnavailable indicates the embedding backend failed or
	// timed out. The affected note degrades to keyword-only indexing.
	ErrCodeEmbeddingUnavailable = "ERR_EMBEDDING_UNAVAILABLE"

	// ErrCodeIndexCorruption indicates a structural invariant was violated on
	// read (e.g., a posting references a note with no vector entry and no
	// degraded marker). Surfaced, never silently repaired.
	ErrCodeIndexCorruption = "ERR_INDEX_CORRUPTION"

	// ErrCodeInvalidQuery indicates empty or whitespace-only query text.
	ErrCodeInvalidQuery = "ERR_INVALID_QUERY"

	// ErrCodeNoteNotFound indicates a note id does not exist in the store.
	ErrCodeNoteNotFound = "ERR_NOTE_NOT_FOUND"

	// ErrCodeValidation indicates invalid note payload (oversized body, too
	// many tags, ...).
	ErrCodeValidation = "ERR_VALIDATION"

	// ErrCodeDatabase indicates a note store failure.
	ErrCodeDatabase = "ERR_DATABASE"

	// ErrCodeConfig indicates invalid configuration.
	ErrCodeConfig = "ERR_CONFIG"

	// ErrCodeInternal is the fallback for unclassified failures.
	ErrCodeInternal = "ERR_INTERNAL"
)

// retryableCodes lists codes where a retry can plausibly succeed.
var retryableCodes = map[string]bool{
	ErrCodeEmbeddingUnavailable: true,
	ErrCodeDatabase:             true,
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}

// Sentinel instances for errors.Is checks. Matching is by code, so wrapped
// errors created with New/Wrap compare equal to these.
var (
	ErrDimensionMismatch    = &NoteError{Code: ErrCodeDimensionMismatch, Message: "embedding dimension mismatch"}
	ErrEmbeddingUnavailable = &NoteError{Code: ErrCodeEmbeddingUnavailable, Message: "embedding backend unavailable", Retryable: true}
	ErrIndexCorruption      = &NoteError{Code: ErrCodeIndexCorruption, Message: "index corruption detected"}
	ErrInvalidQuery         = &NoteError{Code: ErrCodeInvalidQuery, Message: "empty query text"}
	ErrNoteNotFound         = &NoteError{Code: ErrCodeNoteNotFound, Message: "note not found"}
)
