// Package errortypes defines the error taxonomy of the dish recognition pipeline.
package errortypes

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to map it to a response.
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindInvalidImage  Kind = "invalid_image"
	KindModelLoad     Kind = "model_load"
	KindRetrieval     Kind = "retrieval"
	KindSummarization Kind = "summarization"
	KindTimeout       Kind = "timeout"
	KindInternal      Kind = "internal"
)

// InvalidInputError reports a request that failed validation before any model work.
type InvalidInputError struct {
	Field   string
	Message string
	Err     error
}

func (e *InvalidInputError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", msg, e.Err)
	}
	return "invalid input: " + msg
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// InvalidImageError reports bytes that could not be decoded as an image.
type InvalidImageError struct {
	Err error
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image: %v", e.Err)
}

func (e *InvalidImageError) Unwrap() error { return e.Err }

// ModelLoadError reports that the embedding model could not be initialised.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// RetrievalError reports a vector index that was unreachable or answered badly.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("neighbor retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// SummarizationError reports a failed generative call.
type SummarizationError struct {
	Err error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("dish summarization failed: %v", e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost classified error in err's chain.
// Deadline errors are reported as timeouts regardless of the stage they hit.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var (
		invalidInput  *InvalidInputError
		invalidImage  *InvalidImageError
		modelLoad     *ModelLoadError
		retrieval     *RetrievalError
		summarization *SummarizationError
	)
	switch {
	case errors.As(err, &invalidInput):
		return KindInvalidInput
	case errors.As(err, &invalidImage):
		return KindInvalidImage
	case errors.As(err, &modelLoad):
		return KindModelLoad
	case errors.As(err, &retrieval):
		return KindRetrieval
	case errors.As(err, &summarization):
		return KindSummarization
	default:
		return KindInternal
	}
}
