package packer

import "errors"

// ErrMalformedMessage reports an inbound message or packed record whose
// primary content is absent, ambiguous, or inconsistent with its category.
// It marks a broken caller/platform contract, never a transient failure.
var ErrMalformedMessage = errors.New("malformed message")

// ErrUnresolvedAsset reports a dispatch attempt on content that still points
// at a local file. Local refs must be resolved through the asset cache before
// a packed message reaches Unpack.
var ErrUnresolvedAsset = errors.New("unresolved asset")

// ErrUnsupportedCategory reports a category that is missing a dispatch path.
// The category enum and the dispatch table are kept in lockstep, so hitting
// this is an internal consistency bug rather than a recoverable condition.
var ErrUnsupportedCategory = errors.New("unsupported category")
