package node

import "errors"

var errBadBech32 = errors.New("node: malformed bech32 identifier")
