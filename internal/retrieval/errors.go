package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("retrieval: empty query")
	// ErrVectorSearch marks a failed or unreachable vector search.
	ErrVectorSearch = errors.New("retrieval: vector search failed")
)

// RetrievalError reports the pipeline state in which retrieval failed.
type RetrievalError struct {
	Stage State
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
