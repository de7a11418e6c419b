package matcher

import "errors"

var (
	// ErrEmptyCorpus indicates training was attempted with no samples.
	ErrEmptyCorpus = errors.New("no samples to train on")
	// ErrCorruptSnapshot indicates a matcher snapshot that cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt matcher snapshot")
)
