package train

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks an empty or unusable batch. The step is
// skipped and logged; training continues if more data remains.
var ErrInsufficientData = errors.New("insufficient training data")

// DivergenceError reports a non-finite loss. The in-progress pack is
// aborted and its adapter delta rolled back; the importance tracker is not
// finalized for that pack.
type DivergenceError struct {
	Step int
	Loss float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("training diverged at step %d: loss=%v", e.Step, e.Loss)
}
