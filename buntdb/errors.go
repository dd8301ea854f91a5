package buntdb

import "errors"

// ErrBadOptions means Open was handed something other than buntdb.Config
// values.
var ErrBadOptions = errors.New("invalid buntdb options")
