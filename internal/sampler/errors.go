package sampler

import "errors"

var errUnknownGoroutine = errors.New("cannot determine current goroutine id")
