package health

import "errors"

// ErrCircuitOpen is returned while a breaker rejects calls.
// Check with errors.Is; the breaker name travels in the wrapping error.
var ErrCircuitOpen = errors.New("health: circuit breaker is open")

// ErrNotAttempted is passed to a breaker's done callback when the guarded call
// was never sent. The breaker counts it as neither success nor failure.
var ErrNotAttempted = errors.New("health: call not attempted")
