// Package session implements session lifecycle orchestration: reconciling
// provider snapshots against the workspace, starting and stopping sessions,
// grouping, and exporting credential files. All state changes flow through
// the repository; all secret material flows through the secure store.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudgate-framework/cloudgate/internal/audit"
	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
	"github.com/cloudgate-framework/cloudgate/internal/provider"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"
)

// credentialKeyPrefix prefixes the secure-store slot holding an active
// session's issued credentials.
const credentialKeyPrefix = "session-credentials/"

// keyDeleter is implemented by providers that hold long-lived material that
// must be removed with the session.
type keyDeleter interface {
	DeleteKeys(sessionID string) error
}

// Manager orchestrates session lifecycle across the registered providers.
type Manager struct {
	workspace *workspace.Service
	store     secretstore.Store
	bus       *events.Bus
	journal   *audit.Journal // optional
	logger    zerolog.Logger
	now       func() time.Time

	providers map[core.SessionKind]provider.SessionProvider

	// mu serializes lifecycle mutations (start/stop/remove/reconcile).
	mu sync.Mutex
}

// NewManager creates a session manager. The journal may be nil.
func NewManager(ws *workspace.Service, store secretstore.Store, bus *events.Bus, journal *audit.Journal, logger zerolog.Logger) *Manager {
	return &Manager{
		workspace: ws,
		store:     store,
		bus:       bus,
		journal:   journal,
		logger:    logger.With().Str("component", "session-manager").Logger(),
		now:       time.Now,
		providers: make(map[core.SessionKind]provider.SessionProvider),
	}
}

// Register binds a provider to the given session kinds, defaulting to the
// provider's own kind.
func (m *Manager) Register(p provider.SessionProvider, kinds ...core.SessionKind) {
	if len(kinds) == 0 {
		kinds = []core.SessionKind{p.Kind()}
	}
	for _, k := range kinds {
		m.providers[k] = p
	}
}

// Provider returns the provider registered for a kind.
func (m *Manager) Provider(kind core.SessionKind) (provider.SessionProvider, error) {
	p, ok := m.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no provider registered for kind %s", kind)
	}
	return p, nil
}

// Sync runs the provider's discovery and reconciles the snapshot into the
// workspace.
func (m *Manager) Sync(ctx context.Context, kind core.SessionKind) ([]core.RoleDescriptor, error) {
	p, err := m.Provider(kind)
	if err != nil {
		return nil, err
	}
	descriptors, err := p.Sync(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Reconcile(ctx, kind, descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

// Reconcile upserts the snapshot into the workspace by composite key:
// descriptors without a session get one, existing sessions keep their
// identity and local state, and sessions of this kind that vanished from the
// snapshot are stopped and removed. Other kinds are untouched.
func (m *Manager) Reconcile(ctx context.Context, kind core.SessionKind, descriptors []core.RoleDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}

	existing := make(map[string]core.Session)
	next := make([]core.Session, 0, len(ws.Sessions))
	for _, sess := range ws.Sessions {
		if sess.Kind == kind {
			existing[sess.CompositeKey()] = sess
		} else {
			next = append(next, sess)
		}
	}

	var created, removed int
	for _, d := range descriptors {
		if sess, ok := existing[d.CompositeKey()]; ok {
			// Remote metadata may drift; local state (pin, folder,
			// segments, status) is preserved.
			sess.AccountName = d.AccountName
			sess.RoleARN = d.RoleARN
			sess.Email = d.Email
			next = append(next, sess)
			delete(existing, d.CompositeKey())
			continue
		}
		sess := m.sessionFromDescriptor(d, ws.DefaultProfileID)
		next = append(next, sess)
		created++
		m.record(audit.EventSessionCreated, sess.ID, map[string]string{"key": sess.CompositeKey()})
	}

	// Whatever is left in existing vanished from the snapshot.
	var vanished []core.Session
	for _, sess := range existing {
		vanished = append(vanished, sess)
		removed++
	}

	updated := *ws
	updated.Sessions = next
	if err := m.workspace.PersistWorkspace(&updated); err != nil {
		return err
	}

	// Secrets are discarded only once the removal is committed.
	for i := range vanished {
		if vanished[i].Status == core.StatusActive {
			m.teardown(&vanished[i])
		}
		m.record(audit.EventSessionRemoved, vanished[i].ID, map[string]string{"key": vanished[i].CompositeKey(), "reason": "vanished"})
	}

	m.logger.Info().
		Str("kind", string(kind)).
		Int("created", created).
		Int("removed", removed).
		Msg("snapshot reconciled")
	m.publishSessionsChanged()
	return nil
}

func (m *Manager) sessionFromDescriptor(d core.RoleDescriptor, profileID string) core.Session {
	name := d.AccountName
	if d.RoleName != "" {
		name = fmt.Sprintf("%s/%s", d.AccountName, d.RoleName)
	}
	if name == "" || name == "/" {
		name = d.AccountID
	}
	return core.Session{
		ID:          uuid.New().String(),
		Name:        name,
		ProfileID:   profileID,
		Region:      d.Region,
		Kind:        d.Kind,
		Status:      core.StatusInactive,
		AccountID:   d.AccountID,
		AccountName: d.AccountName,
		RoleName:    d.RoleName,
		RoleARN:     d.RoleARN,
		Email:       d.Email,
		TenantID:    d.TenantID,
		CreatedAt:   m.now().UTC(),
	}
}

// Start activates a session: retrieves credentials through its provider,
// stores them in the secure store, and marks the session active. At most one
// session per profile is active at a time; a conflicting active session is
// stopped first.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}
	target := ws.SessionByID(sessionID)
	if target == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	if target.Locked {
		return fmt.Errorf("%w: %s", core.ErrSessionLocked, sessionID)
	}
	p, err := m.Provider(target.Kind)
	if err != nil {
		return err
	}

	// Retrieve credentials before touching any session state, so a failed
	// retrieval leaves the workspace exactly as it was.
	creds, err := p.Credentials(ctx, target)
	if err != nil {
		return err
	}

	sessions := append([]core.Session{}, ws.Sessions...)
	var sess *core.Session
	var conflicts []core.Session
	for i := range sessions {
		if sessions[i].ID == sessionID {
			sess = &sessions[i]
			continue
		}
		if sessions[i].ProfileID == target.ProfileID && sessions[i].Status == core.StatusActive {
			conflicts = append(conflicts, sessions[i])
			sessions[i].Status = core.StatusInactive
			sessions[i].Expiration = nil
		}
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := m.store.Set(credentialKeyPrefix+sess.ID, data); err != nil {
		return fmt.Errorf("storing session credentials: %w", err)
	}

	expiration := creds.Expiration
	sess.Status = core.StatusActive
	sess.Expiration = &expiration

	updated := *ws
	updated.Sessions = sessions
	if err := m.workspace.PersistWorkspace(&updated); err != nil {
		// Roll back the stored secret; the conflicting sessions were
		// never torn down, so the committed state stays consistent.
		_ = m.store.Delete(credentialKeyPrefix + sess.ID)
		return err
	}

	for i := range conflicts {
		m.teardown(&conflicts[i])
		m.record(audit.EventSessionStopped, conflicts[i].ID, map[string]string{"reason": "profile_conflict"})
	}
	m.record(audit.EventSessionStarted, sess.ID, map[string]string{
		"key":    sess.CompositeKey(),
		"region": sess.Region,
	})
	m.publishSessionsChanged()
	return nil
}

// Stop deactivates a session, discarding its stored credentials. The session
// itself survives.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(sessionID)
}

func (m *Manager) stopLocked(sessionID string) error {
	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}
	target := ws.SessionByID(sessionID)
	if target == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	stopped := *target

	sessions := append([]core.Session{}, ws.Sessions...)
	for i := range sessions {
		if sessions[i].ID != sessionID {
			continue
		}
		sessions[i].Status = core.StatusInactive
		sessions[i].Expiration = nil
	}

	updated := *ws
	updated.Sessions = sessions
	if err := m.workspace.PersistWorkspace(&updated); err != nil {
		// Nothing was torn down: a failed persist leaves the session
		// active with its stored credentials intact.
		return err
	}

	m.teardown(&stopped)
	m.record(audit.EventSessionStopped, sessionID, nil)
	m.publishSessionsChanged()
	return nil
}

// teardown invalidates provider caches and removes stored credentials for a
// session. Workspace state is the caller's responsibility.
func (m *Manager) teardown(sess *core.Session) {
	if p, err := m.Provider(sess.Kind); err == nil {
		p.Invalidate(sess.ID)
	}
	if err := m.store.Delete(credentialKeyPrefix + sess.ID); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("discarding stored credentials failed")
	}
}

// StopAll deactivates every active session.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}

	sessions := append([]core.Session{}, ws.Sessions...)
	var stopped []core.Session
	for i := range sessions {
		if sessions[i].Status != core.StatusActive {
			continue
		}
		stopped = append(stopped, sessions[i])
		sessions[i].Status = core.StatusInactive
		sessions[i].Expiration = nil
	}
	if len(stopped) == 0 {
		return nil
	}

	updated := *ws
	updated.Sessions = sessions
	if err := m.workspace.PersistWorkspace(&updated); err != nil {
		return err
	}

	for i := range stopped {
		m.teardown(&stopped[i])
		m.record(audit.EventSessionStopped, stopped[i].ID, nil)
	}
	m.publishSessionsChanged()
	return nil
}

// Remove stops and deletes a session. Long-lived provider material tied to
// the session (IAM user keys) is deleted with it.
func (m *Manager) Remove(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}
	target := ws.SessionByID(sessionID)
	if target == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	removed := *target

	sessions := make([]core.Session, 0, len(ws.Sessions)-1)
	for _, sess := range ws.Sessions {
		if sess.ID != sessionID {
			sessions = append(sessions, sess)
		}
	}

	updated := *ws
	updated.Sessions = sessions
	if err := m.workspace.PersistWorkspace(&updated); err != nil {
		return err
	}

	m.teardown(&removed)
	if p, err := m.Provider(removed.Kind); err == nil {
		if deleter, ok := p.(keyDeleter); ok {
			if err := deleter.DeleteKeys(sessionID); err != nil {
				m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("removing provider keys failed")
			}
		}
	}
	m.record(audit.EventSessionRemoved, sessionID, nil)
	m.publishSessionsChanged()
	return nil
}

// ExpireOverdue deactivates active sessions whose expiration has passed.
func (m *Manager) ExpireOverdue(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return 0, err
	}
	if ws == nil {
		return 0, core.ErrWorkspaceAbsent
	}

	now := m.now()
	sessions := append([]core.Session{}, ws.Sessions...)
	var expired []core.Session
	for i := range sessions {
		if sessions[i].Status != core.StatusActive {
			continue
		}
		if sessions[i].Expiration == nil || now.Before(*sessions[i].Expiration) {
			continue
		}
		expired = append(expired, sessions[i])
		sessions[i].Status = core.StatusInactive
		sessions[i].Expiration = nil
	}
	if len(expired) == 0 {
		return 0, nil
	}

	updated := *ws
	updated.Sessions = sessions
	if err := m.workspace.PersistWorkspace(&updated); err != nil {
		return 0, err
	}

	for i := range expired {
		m.teardown(&expired[i])
		m.record(audit.EventSessionExpired, expired[i].ID, nil)
	}
	m.publishSessionsChanged()
	return len(expired), nil
}

// Credentials returns the stored credentials of an active session.
func (m *Manager) Credentials(sessionID string) (*core.Credentials, error) {
	data, err := m.store.Get(credentialKeyPrefix + sessionID)
	if err != nil {
		return nil, fmt.Errorf("no stored credentials for session %s: %w", sessionID, err)
	}
	var creds core.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decoding stored credentials: %w", err)
	}
	return &creds, nil
}

// SetPinned pins or unpins a session.
func (m *Manager) SetPinned(sessionID string, pinned bool) error {
	return m.mutate(sessionID, func(sess *core.Session) {
		sess.Pinned = pinned
	})
}

// SetFolder assigns a session to a folder; empty clears the assignment.
func (m *Manager) SetFolder(sessionID, folderID string) error {
	return m.mutate(sessionID, func(sess *core.Session) {
		sess.FolderID = folderID
	})
}

// SetSegments replaces a session's segment memberships.
func (m *Manager) SetSegments(sessionID string, segmentIDs []string) error {
	return m.mutate(sessionID, func(sess *core.Session) {
		sess.SegmentIDs = append([]string{}, segmentIDs...)
	})
}

// SetProfile moves a session to a different named profile.
func (m *Manager) SetProfile(sessionID, profileID string) error {
	return m.mutate(sessionID, func(sess *core.Session) {
		sess.ProfileID = profileID
	})
}

func (m *Manager) mutate(sessionID string, fn func(*core.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}
	if ws.SessionByID(sessionID) == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	sessions := append([]core.Session{}, ws.Sessions...)
	for i := range sessions {
		if sessions[i].ID == sessionID {
			fn(&sessions[i])
		}
	}

	updated := *ws
	updated.Sessions = sessions
	if err := m.workspace.PersistWorkspace(&updated); err != nil {
		return err
	}
	m.publishSessionsChanged()
	return nil
}

// Filter selects sessions in List. Zero values match everything.
type Filter struct {
	Kind      core.SessionKind
	Status    core.SessionStatus
	SegmentID string
	FolderID  string
	Pinned    bool // when true, only pinned sessions
}

// List returns the sessions matching the filter.
func (m *Manager) List(filter Filter) ([]core.Session, error) {
	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}

	var out []core.Session
	for _, sess := range ws.Sessions {
		if filter.Kind != "" && sess.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		if filter.FolderID != "" && sess.FolderID != filter.FolderID {
			continue
		}
		if filter.Pinned && !sess.Pinned {
			continue
		}
		if filter.SegmentID != "" && !containsString(sess.SegmentIDs, filter.SegmentID) {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func (m *Manager) record(eventType audit.EventType, sessionID string, detail any) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(eventType, sessionID, detail); err != nil {
		m.logger.Warn().Err(err).Str("event", string(eventType)).Msg("journal write failed")
	}
}

func (m *Manager) publishSessionsChanged() {
	if m.bus != nil {
		m.bus.Publish(events.TopicSessionsChanged, nil)
	}
}
