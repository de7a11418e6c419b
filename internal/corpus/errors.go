package corpus

import (
	"errors"
	"fmt"
)

// ErrCorpusUnavailable indicates the corpus directory is missing or unreadable.
var ErrCorpusUnavailable = errors.New("corpus directory unavailable")

// ErrMissingImage indicates a descriptor without its paired image file.
var ErrMissingImage = errors.New("paired image not found")

// ParseError records one descriptor that could not be ingested.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
