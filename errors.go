package titlecheck

import (
	"errors"

	"github.com/brunobiangulo/titlecheck/advisor"
	"github.com/brunobiangulo/titlecheck/extract"
	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/validator"
)

var (
	// ErrExtractionIncomplete is carried by records whose required fields
	// are missing or ambiguous. It is recorded, never fatal.
	ErrExtractionIncomplete = extract.ErrIncomplete

	// ErrValidationIndeterminate marks findings whose rule could not run
	// because its inputs were absent.
	ErrValidationIndeterminate = validator.ErrIndeterminate

	// ErrRetrievalEmpty marks report entries with no supporting statute.
	ErrRetrievalEmpty = advisor.ErrRetrievalEmpty

	// ErrBackendUnavailable is returned when the completion or embedding
	// service still fails after all retries.
	ErrBackendUnavailable = llm.ErrUnavailable

	// ErrInvalidConfig is returned for malformed policy or settings.
	ErrInvalidConfig = errors.New("titlecheck: invalid configuration")

	// ErrNoCorpus is returned when an assessment is requested before any
	// legal corpus has been built or loaded.
	ErrNoCorpus = errors.New("titlecheck: legal corpus not loaded")

	// ErrMissingDocument is returned when a session carries no documents or
	// a document without text. An absent document type is not an error.
	ErrMissingDocument = errors.New("titlecheck: missing document")

	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("titlecheck: engine is closed")
)
