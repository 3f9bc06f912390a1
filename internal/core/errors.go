package core

import "errors"

// Error taxonomy shared across the repository, providers, and session
// manager. Callers discriminate with errors.Is; every wrapping site uses
// fmt.Errorf with %w so the sentinel survives annotation.
var (
	// ErrCorruptWorkspace means the persisted document is unreadable or
	// invalid. The affected operation fails closed; the workspace must be
	// recreated or repaired out-of-band.
	ErrCorruptWorkspace = errors.New("workspace document is corrupt")

	// ErrWorkspaceWrite means a persist failed. The previously committed
	// on-disk document is untouched.
	ErrWorkspaceWrite = errors.New("workspace write failed")

	// ErrWorkspaceAbsent means no workspace document exists yet.
	ErrWorkspaceAbsent = errors.New("workspace does not exist")

	// ErrTokenExpired means the cached federation access token is stale.
	// The caller must re-run an interactive sync; credential retrieval
	// never re-triggers the interactive flow on its own.
	ErrTokenExpired = errors.New("access token expired")

	// ErrTimeout means an external call or the browser wait exceeded its
	// budget. Retryable by the caller.
	ErrTimeout = errors.New("operation timed out")

	// ErrInterrupted is a deliberate user abort, not a failure. The
	// presentation layer keeps it silent.
	ErrInterrupted = errors.New("operation interrupted")

	// ErrEnumeration means role listing failed mid-pagination. Partial
	// results are discarded, never merged.
	ErrEnumeration = errors.New("role enumeration failed")

	// ErrSessionNotFound means the referenced session is not in the
	// workspace.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLocked means the session requires re-authentication
	// before it can be started.
	ErrSessionLocked = errors.New("session is locked, re-authentication required")

	// ErrSyncInProgress means a federation sync is already running for
	// this provider.
	ErrSyncInProgress = errors.New("sync already in progress")
)
