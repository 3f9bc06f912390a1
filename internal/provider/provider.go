// Package provider defines the capability set shared by every credential
// provider variant (AWS SSO role, AWS IAM, Azure). Provider selection is by
// the session's recorded kind; implementations are composed, not inherited.
package provider

import (
	"context"

	"github.com/cloudgate-framework/cloudgate/internal/core"
)

// CredentialProvider is the shared capability set: federate identity,
// materialize sessions, invalidate tokens, and cancel in-flight flows.
type CredentialProvider interface {
	// Kind returns the session kind this provider produces.
	Kind() core.SessionKind

	// Sync contacts the external federation endpoint and returns a
	// snapshot of discovered role descriptors. On a missing or expired
	// token it runs the interactive federation flow first. The caller
	// reconciles the snapshot against existing sessions.
	Sync(ctx context.Context) ([]core.RoleDescriptor, error)

	// Create materializes one descriptor into a persisted session with a
	// nil expiration (not yet activated).
	Create(descriptor core.RoleDescriptor, profileID string) (*core.Session, error)

	// Logout invalidates cached tokens and credentials. With lock set,
	// the provider's sessions are marked locked (requiring
	// re-authentication) instead of being deleted.
	Logout(ctx context.Context, lock bool) error

	// Interrupt cancels any in-flight federation flow. It is idempotent
	// and race-free: calling it twice, or after natural completion, is a
	// no-op.
	Interrupt()
}

// CredentialSource retrieves and caches per-session credentials. Retrieval
// past expiration performs exactly one exchange; an expired federation token
// surfaces core.ErrTokenExpired instead of re-triggering the interactive
// flow.
type CredentialSource interface {
	// Credentials returns cached material while now < expiration,
	// refreshing it otherwise. Concurrent callers for the same session
	// await a single in-flight refresh.
	Credentials(ctx context.Context, session *core.Session) (*core.Credentials, error)

	// Invalidate drops any cached credentials for the session.
	Invalidate(sessionID string)
}

// SessionProvider is the full contract the session manager requires.
type SessionProvider interface {
	CredentialProvider
	CredentialSource
}
