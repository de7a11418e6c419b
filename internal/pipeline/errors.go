package pipeline

import "errors"

var (
	// ErrNotReady indicates an operation that needs a trained pipeline.
	ErrNotReady = errors.New("pipeline is not ready")
	// ErrLabelConflict indicates an appended sample whose label is not the next free label.
	ErrLabelConflict = errors.New("label conflicts with existing pose")
	// ErrTrainingFailed wraps the error of a matcher training attempt.
	ErrTrainingFailed = errors.New("training failed")
	// ErrNoStore indicates Restore was called on a pipeline without a snapshot store.
	ErrNoStore = errors.New("pipeline has no snapshot store")
)
