package queue

import "errors"

// ErrInvalidStatus is returned when a caller supplies a status outside the
// known lifecycle set.
var ErrInvalidStatus = errors.New("invalid status")
