package ensemble

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerate is returned when the training matrix cannot support a fit:
	// too few rows, no columns, or no column with any variance.
	ErrDegenerate = errors.New("degenerate feature matrix")

	// ErrUntrained is returned when scoring with a bundle that was never fitted.
	ErrUntrained = errors.New("detector bundle is not trained")

	// ErrTrained is returned when fitting a bundle twice.
	ErrTrained = errors.New("detector bundle is already trained")

	// ErrFeatureMismatch is returned when the scored matrix does not carry
	// exactly the features the bundle was trained on.
	ErrFeatureMismatch = errors.New("feature set does not match training")
)

// FitError reports which detector failed to initialize.
type FitError struct {
	Model string
	Err   error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit %s: %v", e.Model, e.Err)
}

func (e *FitError) Unwrap() error {
	return e.Err
}
