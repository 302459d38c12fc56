package treatment

import "errors"

// ErrNotFound indicates the referenced schedule, task, or prescription
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a state-machine violation, such as administering
// a dose against a completed or cancelled work item.
var ErrConflict = errors.New("work item is not pending")
