package anchor

import "errors"

var (
	errUnknownTransition = errors.New("anchor: transition not present in bundle")
	errUnknownContract   = errors.New("anchor: contract not present in anchor")
)
