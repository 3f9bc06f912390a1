package awssso

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
	"github.com/cloudgate-framework/cloudgate/internal/logging"
	"github.com/cloudgate-framework/cloudgate/internal/repository"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"
)

type fakeOIDC struct {
	mu            sync.Mutex
	registerCalls int
	tokenCalls    int
	// pendingPolls is how many CreateToken calls return
	// AuthorizationPending before a token is issued.
	pendingPolls int
	interval     int32
	expiresIn    int32
}

func (f *fakeOIDC) RegisterClient(_ context.Context, _ *ssooidc.RegisterClientInput, _ ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error) {
	f.mu.Lock()
	f.registerCalls++
	f.mu.Unlock()
	return &ssooidc.RegisterClientOutput{
		ClientId:     aws.String("client-id"),
		ClientSecret: aws.String("client-secret"),
	}, nil
}

func (f *fakeOIDC) StartDeviceAuthorization(_ context.Context, _ *ssooidc.StartDeviceAuthorizationInput, _ ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error) {
	return &ssooidc.StartDeviceAuthorizationOutput{
		DeviceCode:              aws.String("device-code"),
		UserCode:                aws.String("ABCD-EFGH"),
		VerificationUriComplete: aws.String("https://device.sso.example/?user_code=ABCD-EFGH"),
		ExpiresIn:               f.expiresIn,
		Interval:                f.interval,
	}, nil
}

func (f *fakeOIDC) CreateToken(_ context.Context, _ *ssooidc.CreateTokenInput, _ ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	if f.tokenCalls <= f.pendingPolls {
		return nil, &oidctypes.AuthorizationPendingException{}
	}
	return &ssooidc.CreateTokenOutput{
		AccessToken: aws.String("portal-access-token"),
		ExpiresIn:   3600,
	}, nil
}

type fakePortal struct {
	mu            sync.Mutex
	accounts      []ssotypes.AccountInfo
	roles         map[string][]string
	failRolesFor  string
	roleCredCalls int32
	roleCredDelay time.Duration
	credExpiresIn time.Duration
	logoutCalls   int
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		accounts: []ssotypes.AccountInfo{
			{AccountId: aws.String("111111111111"), AccountName: aws.String("alpha"), EmailAddress: aws.String("alpha@example.com")},
			{AccountId: aws.String("222222222222"), AccountName: aws.String("beta"), EmailAddress: aws.String("beta@example.com")},
		},
		roles: map[string][]string{
			"111111111111": {"AdministratorAccess", "ReadOnlyAccess"},
			"222222222222": {"AdministratorAccess"},
		},
		credExpiresIn: 15 * time.Minute,
	}
}

func (f *fakePortal) ListAccounts(_ context.Context, _ *sso.ListAccountsInput, _ ...func(*sso.Options)) (*sso.ListAccountsOutput, error) {
	return &sso.ListAccountsOutput{AccountList: f.accounts}, nil
}

// ListAccountRoles serves one role per page to exercise pagination.
func (f *fakePortal) ListAccountRoles(_ context.Context, params *sso.ListAccountRolesInput, _ ...func(*sso.Options)) (*sso.ListAccountRolesOutput, error) {
	accountID := aws.ToString(params.AccountId)
	if accountID == f.failRolesFor {
		return nil, fmt.Errorf("access denied listing roles")
	}

	roles := f.roles[accountID]
	page := 0
	if params.NextToken != nil {
		page, _ = strconv.Atoi(aws.ToString(params.NextToken))
	}
	if page >= len(roles) {
		return &sso.ListAccountRolesOutput{}, nil
	}

	out := &sso.ListAccountRolesOutput{
		RoleList: []ssotypes.RoleInfo{
			{AccountId: params.AccountId, RoleName: aws.String(roles[page])},
		},
	}
	if page+1 < len(roles) {
		out.NextToken = aws.String(strconv.Itoa(page + 1))
	}
	return out, nil
}

func (f *fakePortal) GetRoleCredentials(_ context.Context, params *sso.GetRoleCredentialsInput, _ ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error) {
	atomic.AddInt32(&f.roleCredCalls, 1)
	if f.roleCredDelay > 0 {
		time.Sleep(f.roleCredDelay)
	}
	return &sso.GetRoleCredentialsOutput{
		RoleCredentials: &ssotypes.RoleCredentials{
			AccessKeyId:     aws.String("ASIAEXAMPLE"),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("session-token"),
			Expiration:      time.Now().Add(f.credExpiresIn).UnixMilli(),
		},
	}, nil
}

func (f *fakePortal) Logout(_ context.Context, _ *sso.LogoutInput, _ ...func(*sso.Options)) (*sso.LogoutOutput, error) {
	f.mu.Lock()
	f.logoutCalls++
	f.mu.Unlock()
	return &sso.LogoutOutput{}, nil
}

type harness struct {
	svc    *RoleService
	ws     *workspace.Service
	store  secretstore.Store
	oidc   *fakeOIDC
	portal *fakePortal
	bus    *events.Bus
	opened []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := events.NewBus()
	repo := repository.New(t.TempDir(), bus, logging.Nop())
	ws := workspace.NewService(repo)
	if _, err := ws.CreateWorkspace(); err != nil {
		t.Fatalf("creating workspace: %v", err)
	}
	if err := ws.SetAwsSsoConfiguration(core.AwsSsoConfiguration{
		Region:    "us-east-1",
		PortalURL: "https://acme.awsapps.com/start",
	}); err != nil {
		t.Fatalf("configuring sso: %v", err)
	}

	h := &harness{
		ws:     ws,
		store:  secretstore.NewMemoryStore(),
		oidc:   &fakeOIDC{interval: 1, expiresIn: 600, pendingPolls: 1},
		portal: newFakePortal(),
		bus:    bus,
	}
	h.svc = New(ws, h.store, bus, logging.Nop())
	h.svc.newOIDC = func(string) OIDCClient { return h.oidc }
	h.svc.newPortal = func(string) PortalClient { return h.portal }
	h.svc.openURL = func(url string) error {
		h.opened = append(h.opened, url)
		return nil
	}
	h.svc.pollEvery = 2 * time.Millisecond
	return h
}

func TestSyncDeviceFlowAndEnumeration(t *testing.T) {
	h := newHarness(t)

	descriptors, err := h.svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(descriptors) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descriptors))
	}
	keys := map[string]bool{}
	for _, d := range descriptors {
		keys[d.CompositeKey()] = true
		if d.Kind != core.KindAwsSsoRole {
			t.Errorf("wrong kind: %s", d.Kind)
		}
	}
	if !keys["aws_sso_role/111111111111/ReadOnlyAccess"] || !keys["aws_sso_role/222222222222/AdministratorAccess"] {
		t.Errorf("missing expected descriptors: %v", keys)
	}

	if got := h.svc.State(); got != StateSynced {
		t.Errorf("expected state synced, got %s", got)
	}
	if len(h.opened) != 1 {
		t.Errorf("expected browser opened once, got %d", len(h.opened))
	}
	if _, err := h.store.Get(accessTokenKey); err != nil {
		t.Errorf("access token not stored: %v", err)
	}
	cfg, _ := h.ws.GetAwsSsoConfiguration()
	if cfg.ExpirationTime == nil || !cfg.ExpirationTime.After(time.Now()) {
		t.Error("token expiration not recorded in workspace")
	}
}

func TestSyncReusesCachedToken(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.Sync(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	firstLogins := h.oidc.registerCalls

	descriptors, err := h.svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(descriptors) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descriptors))
	}
	if h.oidc.registerCalls != firstLogins {
		t.Errorf("second sync re-ran the device flow: %d registrations", h.oidc.registerCalls)
	}
	if !h.svc.AwsSsoActive() {
		t.Error("expected active sso after sync")
	}
}

func TestSyncInterrupt(t *testing.T) {
	h := newHarness(t)
	h.oidc.pendingPolls = 1 << 30

	errc := make(chan error, 1)
	go func() {
		_, err := h.svc.Sync(context.Background())
		errc <- err
	}()

	waitForState(t, h.svc, StateAwaitingBrowser)
	h.svc.Interrupt()

	select {
	case err := <-errc:
		if !errors.Is(err, core.ErrInterrupted) {
			t.Fatalf("expected ErrInterrupted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not return after interrupt")
	}
	if got := h.svc.State(); got != StateInterrupted {
		t.Errorf("expected state interrupted, got %s", got)
	}

	// A second interrupt with nothing in flight is a no-op.
	h.svc.Interrupt()

	// The service accepts a fresh sync afterwards.
	h.oidc.mu.Lock()
	h.oidc.pendingPolls = 0
	h.oidc.tokenCalls = 0
	h.oidc.mu.Unlock()
	if _, err := h.svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync after interrupt: %v", err)
	}
}

func TestSyncTimeout(t *testing.T) {
	h := newHarness(t)
	h.oidc.pendingPolls = 1 << 30
	h.svc.pollTimeout = 10 * time.Millisecond
	h.oidc.expiresIn = 0 // budget falls back to pollTimeout

	_, err := h.svc.Sync(context.Background())
	if !errors.Is(err, core.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := h.svc.State(); got != StateFailed {
		t.Errorf("expected state failed, got %s", got)
	}
}

func TestSyncRejectsConcurrent(t *testing.T) {
	h := newHarness(t)
	h.oidc.pendingPolls = 1 << 30

	errc := make(chan error, 1)
	go func() {
		_, err := h.svc.Sync(context.Background())
		errc <- err
	}()
	waitForState(t, h.svc, StateAwaitingBrowser)

	if _, err := h.svc.Sync(context.Background()); !errors.Is(err, core.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	h.svc.Interrupt()
	<-errc
}

func TestSyncEnumerationFailureDiscardsPartial(t *testing.T) {
	h := newHarness(t)
	h.portal.failRolesFor = "222222222222"

	descriptors, err := h.svc.Sync(context.Background())
	if !errors.Is(err, core.ErrEnumeration) {
		t.Fatalf("expected ErrEnumeration, got %v", err)
	}
	if descriptors != nil {
		t.Errorf("partial snapshot returned on failure: %v", descriptors)
	}
	if got := h.svc.State(); got != StateFailed {
		t.Errorf("expected state failed, got %s", got)
	}
}

func TestSyncPublishesVerificationURL(t *testing.T) {
	h := newHarness(t)
	ch, cancel := h.bus.Subscribe(events.TopicSsoStatus, 8)
	defer cancel()

	if _, err := h.svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var sawPending, sawActive bool
	for {
		select {
		case ev := <-ch:
			p := ev.Payload.(events.SsoStatusPayload)
			if !p.Active && p.VerificationURL != "" && p.UserCode != "" {
				sawPending = true
			}
			if p.Active {
				sawActive = true
			}
		default:
			if !sawPending || !sawActive {
				t.Errorf("missing sso status events: pending=%v active=%v", sawPending, sawActive)
			}
			return
		}
	}
}

func TestCreatePersistsSession(t *testing.T) {
	h := newHarness(t)
	profileID, _ := h.ws.GetDefaultProfileID()

	descriptor := core.RoleDescriptor{
		Kind:        core.KindAwsSsoRole,
		AccountID:   "111111111111",
		AccountName: "alpha",
		RoleName:    "ReadOnlyAccess",
		RoleARN:     "arn:aws:iam::111111111111:role/ReadOnlyAccess",
		Region:      "us-east-1",
	}
	session, err := h.svc.Create(descriptor, profileID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if session.Status != core.StatusInactive {
		t.Errorf("new session not inactive: %s", session.Status)
	}
	if session.Expiration != nil {
		t.Error("new session must have nil expiration")
	}

	ws, _ := h.ws.GetWorkspace()
	persisted := ws.SessionByID(session.ID)
	if persisted == nil {
		t.Fatal("session not persisted")
	}
	if persisted.CompositeKey() != descriptor.CompositeKey() {
		t.Errorf("composite key mismatch: %s vs %s", persisted.CompositeKey(), descriptor.CompositeKey())
	}
}

func TestCredentialsCachedWhileValid(t *testing.T) {
	h := newHarness(t)
	session := activeSession(t, h)

	ctx := context.Background()
	first, err := h.svc.Credentials(ctx, session)
	if err != nil {
		t.Fatalf("first retrieval: %v", err)
	}
	second, err := h.svc.Credentials(ctx, session)
	if err != nil {
		t.Fatalf("second retrieval: %v", err)
	}

	if atomic.LoadInt32(&h.portal.roleCredCalls) != 1 {
		t.Errorf("expected 1 portal call, got %d", h.portal.roleCredCalls)
	}
	if first.AccessKeyID != second.AccessKeyID {
		t.Error("cache returned different material")
	}
}

func TestCredentialsConcurrentRefreshCollapses(t *testing.T) {
	h := newHarness(t)
	h.portal.roleCredDelay = 30 * time.Millisecond
	session := activeSession(t, h)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Credentials(context.Background(), session)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&h.portal.roleCredCalls); got != 1 {
		t.Errorf("expected a single collapsed exchange, got %d", got)
	}
}

func TestCredentialsRefreshAfterInvalidate(t *testing.T) {
	h := newHarness(t)
	session := activeSession(t, h)

	ctx := context.Background()
	if _, err := h.svc.Credentials(ctx, session); err != nil {
		t.Fatalf("first retrieval: %v", err)
	}
	h.svc.Invalidate(session.ID)
	if _, err := h.svc.Credentials(ctx, session); err != nil {
		t.Fatalf("retrieval after invalidate: %v", err)
	}
	if got := atomic.LoadInt32(&h.portal.roleCredCalls); got != 2 {
		t.Errorf("expected 2 portal calls, got %d", got)
	}
}

func TestCredentialsExpiredTokenSurfaces(t *testing.T) {
	h := newHarness(t)
	session := activeSession(t, h)

	// Push the federation token into the past.
	cfg, _ := h.ws.GetAwsSsoConfiguration()
	past := time.Now().Add(-time.Hour)
	cfg.ExpirationTime = &past
	if err := h.ws.SetAwsSsoConfiguration(cfg); err != nil {
		t.Fatalf("expiring token: %v", err)
	}

	_, err := h.svc.Credentials(context.Background(), session)
	if !errors.Is(err, core.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if got := atomic.LoadInt32(&h.portal.roleCredCalls); got != 0 {
		t.Errorf("portal called despite expired token: %d", got)
	}
}

func TestLogoutLocksSessions(t *testing.T) {
	h := newHarness(t)
	session := activeSession(t, h)

	if err := h.svc.Logout(context.Background(), true); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := h.store.Get(accessTokenKey); !errors.Is(err, secretstore.ErrNotFound) {
		t.Errorf("access token survived logout: %v", err)
	}
	cfg, _ := h.ws.GetAwsSsoConfiguration()
	if cfg.ExpirationTime != nil {
		t.Error("expiration survived logout")
	}
	if h.portal.logoutCalls != 1 {
		t.Errorf("expected 1 portal logout, got %d", h.portal.logoutCalls)
	}

	ws, _ := h.ws.GetWorkspace()
	persisted := ws.SessionByID(session.ID)
	if persisted == nil || !persisted.Locked {
		t.Error("session not locked after logout(lock)")
	}
	if h.svc.AwsSsoActive() {
		t.Error("sso still active after logout")
	}
}

func TestLogoutWithoutLockKeepsSessionsUnlocked(t *testing.T) {
	h := newHarness(t)
	session := activeSession(t, h)

	if err := h.svc.Logout(context.Background(), false); err != nil {
		t.Fatalf("logout: %v", err)
	}
	ws, _ := h.ws.GetWorkspace()
	persisted := ws.SessionByID(session.ID)
	if persisted == nil || persisted.Locked {
		t.Error("session unexpectedly locked")
	}
}

// activeSession syncs, creates one session, and leaves a valid token behind.
func activeSession(t *testing.T, h *harness) *core.Session {
	t.Helper()
	if _, err := h.svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	profileID, _ := h.ws.GetDefaultProfileID()
	session, err := h.svc.Create(core.RoleDescriptor{
		Kind:        core.KindAwsSsoRole,
		AccountID:   "111111111111",
		AccountName: "alpha",
		RoleName:    "ReadOnlyAccess",
		Region:      "us-east-1",
	}, profileID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func waitForState(t *testing.T, svc *RoleService, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state %s never reached (at %s)", want, svc.State())
}
