// Package integration_test exercises the full cloudgate session lifecycle
// end-to-end: workspace creation, role discovery and reconciliation, session
// start/stop/remove, credential storage, and the audit journal chain.
//
// These tests use a real workspace document and a real SQLite journal (in
// temp directories). No cloud API calls are made.
package integration_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cloudgate-framework/cloudgate/internal/audit"
	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/db"
	"github.com/cloudgate-framework/cloudgate/internal/events"
	"github.com/cloudgate-framework/cloudgate/internal/logging"
	"github.com/cloudgate-framework/cloudgate/internal/repository"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
	"github.com/cloudgate-framework/cloudgate/internal/session"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"
)

// fakeRoleProvider stands in for the AWS SSO role provider: discovery returns
// a fixed snapshot and credential retrieval mints short-lived material
// locally.
type fakeRoleProvider struct {
	descriptors []core.RoleDescriptor
	secret      string
}

func (f *fakeRoleProvider) Kind() core.SessionKind { return core.KindAwsSsoRole }

func (f *fakeRoleProvider) Sync(ctx context.Context) ([]core.RoleDescriptor, error) {
	return append([]core.RoleDescriptor{}, f.descriptors...), nil
}

func (f *fakeRoleProvider) Create(d core.RoleDescriptor, profileID string) (*core.Session, error) {
	return nil, errors.New("not used")
}

func (f *fakeRoleProvider) Credentials(_ context.Context, sess *core.Session) (*core.Credentials, error) {
	return &core.Credentials{
		AccessKeyID:     "AKIA" + strings.ToUpper(sess.AccountID),
		SecretAccessKey: f.secret,
		SessionToken:    "session-token-" + sess.AccountID,
		Expiration:      time.Now().Add(time.Hour).UTC(),
	}, nil
}

func (f *fakeRoleProvider) Invalidate(sessionID string) {}

func (f *fakeRoleProvider) Logout(ctx context.Context, lock bool) error { return nil }

func (f *fakeRoleProvider) Interrupt() {}

type env struct {
	dir string
	ws  *workspace.Service
	mgr *session.Manager
}

// setup creates a full cloudgate stack over a temp directory: JSON workspace
// document, SQLite journal, in-memory secret store, and one registered fake
// provider.
func setup(t *testing.T, prov *fakeRoleProvider) (*env, func() (bool, int, error)) {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewBus()
	repo := repository.New(dir, bus, logging.Nop())
	ws := workspace.NewService(repo)
	doc, err := ws.CreateWorkspace()
	if err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	database, err := db.OpenJournalDB(dir)
	if err != nil {
		t.Fatalf("opening journal database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	journal, err := audit.NewJournal(database, doc.ID)
	if err != nil {
		t.Fatalf("creating journal: %v", err)
	}

	mgr := session.NewManager(ws, secretstore.NewMemoryStore(), bus, journal, logging.Nop())
	mgr.Register(prov)

	verify := func() (bool, int, error) {
		return audit.Verify(database, doc.ID)
	}
	return &env{dir: dir, ws: ws, mgr: mgr}, verify
}

func roleDescriptor(account, role string) core.RoleDescriptor {
	return core.RoleDescriptor{
		Kind:        core.KindAwsSsoRole,
		AccountID:   account,
		AccountName: "account-" + account,
		RoleName:    role,
		RoleARN:     "arn:aws:iam::" + account + ":role/" + role,
		Region:      "us-east-1",
	}
}

func findSession(t *testing.T, ws *workspace.Service, key string) *core.Session {
	t.Helper()
	doc, err := ws.GetWorkspace()
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	for i := range doc.Sessions {
		if doc.Sessions[i].CompositeKey() == key {
			return &doc.Sessions[i]
		}
	}
	return nil
}

// TestSessionLifecycleEndToEnd walks the whole flow: empty workspace, role
// discovery creating two inactive sessions, an idempotent re-sync, starting
// one session, stopping it, and removing it, with the journal chain verified
// at the end.
func TestSessionLifecycleEndToEnd(t *testing.T) {
	prov := &fakeRoleProvider{
		secret: "integration-secret-material",
		descriptors: []core.RoleDescriptor{
			roleDescriptor("111111111111", "ReadOnly"),
			roleDescriptor("222222222222", "Admin"),
		},
	}
	e, verify := setup(t, prov)
	ctx := context.Background()

	// Discovery creates one session per descriptor, inactive with no
	// expiration.
	descs, err := e.mgr.Sync(ctx, core.KindAwsSsoRole)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}

	readOnly := findSession(t, e.ws, "aws_sso_role/111111111111/ReadOnly")
	admin := findSession(t, e.ws, "aws_sso_role/222222222222/Admin")
	if readOnly == nil || admin == nil {
		t.Fatal("expected both discovered sessions in the workspace")
	}
	for _, sess := range []*core.Session{readOnly, admin} {
		if sess.Status != core.StatusInactive {
			t.Errorf("new session %s not inactive: %s", sess.Name, sess.Status)
		}
		if sess.Expiration != nil {
			t.Errorf("new session %s has an expiration before start", sess.Name)
		}
	}

	// Re-sync with the same snapshot keeps session identity.
	readOnlyID := readOnly.ID
	if _, err := e.mgr.Sync(ctx, core.KindAwsSsoRole); err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	readOnly = findSession(t, e.ws, "aws_sso_role/111111111111/ReadOnly")
	if readOnly == nil || readOnly.ID != readOnlyID {
		t.Fatal("re-sync changed session identity")
	}

	// Start the ReadOnly session: it becomes active with an expiration and
	// its credentials are retrievable.
	if err := e.mgr.Start(ctx, readOnly.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	readOnly = findSession(t, e.ws, "aws_sso_role/111111111111/ReadOnly")
	if readOnly.Status != core.StatusActive {
		t.Fatalf("started session not active: %s", readOnly.Status)
	}
	if readOnly.Expiration == nil || !readOnly.Expiration.After(time.Now()) {
		t.Fatal("started session missing a future expiration")
	}
	creds, err := e.mgr.Credentials(readOnly.ID)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.SecretAccessKey != prov.secret {
		t.Errorf("unexpected secret access key")
	}

	// The document on disk reflects the running state: a fresh repository
	// over the same directory sees it.
	reread := workspace.NewService(repository.New(e.dir, events.NewBus(), logging.Nop()))
	doc, err := reread.GetWorkspace()
	if err != nil {
		t.Fatalf("re-reading workspace: %v", err)
	}
	if len(doc.Sessions) != 2 {
		t.Fatalf("persisted document has %d sessions", len(doc.Sessions))
	}
	active := 0
	for _, sess := range doc.Sessions {
		if sess.Status == core.StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("persisted document has %d active sessions, want 1", active)
	}

	// Stop: the session survives but its credentials are discarded.
	if err := e.mgr.Stop(ctx, readOnly.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	readOnly = findSession(t, e.ws, "aws_sso_role/111111111111/ReadOnly")
	if readOnly.Status != core.StatusInactive {
		t.Fatalf("stopped session still active")
	}
	if readOnly.Expiration != nil {
		t.Error("stopped session kept its expiration")
	}
	if _, err := e.mgr.Credentials(readOnly.ID); err == nil {
		t.Error("stopped session still has stored credentials")
	}

	// Remove the Admin session.
	if err := e.mgr.Remove(ctx, admin.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	doc, _ = e.ws.GetWorkspace()
	if len(doc.Sessions) != 1 {
		t.Fatalf("expected 1 session after remove, got %d", len(doc.Sessions))
	}

	// Every lifecycle step above was journaled and the hash chain holds:
	// two creations, a start, a stop, and a removal.
	valid, count, err := verify()
	if err != nil {
		t.Fatalf("verifying journal: %v", err)
	}
	if !valid {
		t.Error("journal chain broken")
	}
	if count < 5 {
		t.Errorf("expected at least 5 journal records, got %d", count)
	}
}
