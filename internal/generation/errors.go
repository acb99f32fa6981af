package generation

import "errors"

// ErrCancelled is returned by a Generator that stopped because its
// CancelCheck reported cancellation. It is the only generation error that
// is not an engine failure.
var ErrCancelled = errors.New("generation cancelled")
