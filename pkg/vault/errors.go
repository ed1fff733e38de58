package vault

import "errors"

// ErrRecordNotFound reports a lookup for an id (or id prefix) that matches
// no stored record.
var ErrRecordNotFound = errors.New("record not found")

// ErrAmbiguousID reports an id prefix that matches more than one stored
// record. The caller needs to supply more characters.
var ErrAmbiguousID = errors.New("ambiguous record id")

// ErrCollectorClosed reports an attempt to buffer an album item after the
// collector flushed its pending groups and shut down.
var ErrCollectorClosed = errors.New("collector is closed")
