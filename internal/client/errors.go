package client

import "errors"

// ErrKeyNotFound is returned by cache lookups when the key is absent or has
// expired.
var ErrKeyNotFound = errors.New("key not found")
