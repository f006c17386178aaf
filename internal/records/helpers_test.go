package records

import "time"

const (
	timeoutWait = 2 * time.Second
	tick        = 5 * time.Millisecond
)
