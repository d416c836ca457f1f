package cluster

import "errors"

// ErrInvalidComposition is returned when a caller supplies a malformed
// desired composition: a negative target count or a key with no
// configured job kind. Rejected at the facade boundary, before anything
// reaches the reconciliation loop.
var ErrInvalidComposition = errors.New("invalid desired composition")
