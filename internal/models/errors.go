package models

import "errors"

// Failure taxonomy surfaced to callers. Every failure path returns
// control to an idle/empty state; none of these crash the process.
var (
	// ErrTransportUnavailable means the record store is not initialized
	// yet. Callers should retry later.
	ErrTransportUnavailable = errors.New("pack store not available")

	// ErrFetchFailed means a catalog list failed; the returned view is
	// empty rather than stale.
	ErrFetchFailed = errors.New("pack list fetch failed")

	// ErrDeleteFailed means a delete did not complete; callers should
	// re-list since partial deletion by the store cannot be ruled out.
	ErrDeleteFailed = errors.New("pack delete failed")

	// ErrDownloadInProgress rejects a second concurrent download
	// request. Reported synchronously with no state change.
	ErrDownloadInProgress = errors.New("a download is already in progress")

	// ErrDownloadFailed wraps the store's error callback message.
	ErrDownloadFailed = errors.New("pack download failed")
)
