package research

import "errors"

// Error kinds raised by the engine. None are handled internally; a failure
// at any depth aborts the whole research tree and surfaces to the caller.
// Match with errors.Is.
var (
	// ErrGeneration means the model could not produce schema- or
	// enum-conforming output after retries.
	ErrGeneration = errors.New("generation failed")

	// ErrRetrieval means the search provider or network failed.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrEvaluation means the evaluator loop reached an invalid internal
	// state, e.g. a judge call with nothing pending.
	ErrEvaluation = errors.New("evaluation failed")
)
