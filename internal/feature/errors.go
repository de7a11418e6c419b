package feature

import "errors"

// ErrDimensionMismatch indicates a vector whose length differs from the expected dimension.
var ErrDimensionMismatch = errors.New("feature dimension mismatch")
