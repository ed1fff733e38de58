package assetcache

import "errors"

// ErrFileUnreadable reports a local file that could not be opened or read
// while computing its content identity. The path may be wrong, gone, or
// permission-blocked; retrying without fixing the file will fail again.
var ErrFileUnreadable = errors.New("file unreadable")

// ErrUploadFailed reports a platform upload that did not complete. No cache
// entry is written for a failed upload, so the next resolve retries it.
var ErrUploadFailed = errors.New("upload failed")
