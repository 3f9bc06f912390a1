// Package awssso implements the AWS IAM Identity Center credential provider:
// the browser-based device-authorization federation flow, paginated role
// discovery, and the temporary role-credential lifecycle.
package awssso

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"
)

// State is the federation state machine position. Interrupted and Failed are
// terminal for the attempt; a later Sync starts fresh from Idle.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingBrowser  State = "awaiting_browser_authorization"
	StateTokenAcquired    State = "token_acquired"
	StateEnumeratingRoles State = "enumerating_roles"
	StateSynced           State = "synced"
	StateInterrupted      State = "interrupted"
	StateFailed           State = "failed"
)

const (
	// accessTokenKey is the secure-store slot for the portal access token.
	// The token's expiration lives in the workspace document; the token
	// itself never does.
	accessTokenKey = "aws-sso/access-token"

	clientName      = "cloudgate"
	clientType      = "public"
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// OIDCClient is the subset of the SSO OIDC API the service uses. Satisfied
// by *ssooidc.Client.
type OIDCClient interface {
	RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error)
	StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error)
	CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error)
}

// PortalClient is the subset of the SSO portal API the service uses.
// Satisfied by *sso.Client.
type PortalClient interface {
	ListAccounts(ctx context.Context, params *sso.ListAccountsInput, optFns ...func(*sso.Options)) (*sso.ListAccountsOutput, error)
	ListAccountRoles(ctx context.Context, params *sso.ListAccountRolesInput, optFns ...func(*sso.Options)) (*sso.ListAccountRolesOutput, error)
	GetRoleCredentials(ctx context.Context, params *sso.GetRoleCredentialsInput, optFns ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error)
	Logout(ctx context.Context, params *sso.LogoutInput, optFns ...func(*sso.Options)) (*sso.LogoutOutput, error)
}

// RoleService drives the AWS SSO federation flow and manages the resulting
// temporary credentials.
type RoleService struct {
	workspace *workspace.Service
	store     secretstore.Store
	bus       *events.Bus
	logger    zerolog.Logger

	newOIDC   func(region string) OIDCClient
	newPortal func(region string) PortalClient
	openURL   func(url string) error
	now       func() time.Time

	pollTimeout time.Duration
	// pollEvery, when set, overrides the endpoint-provided poll interval.
	// Swapped in tests; zero in production.
	pollEvery time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	credMu sync.Mutex
	creds  map[string]*core.Credentials
	flight singleflight.Group
}

// New creates the SSO role service.
func New(ws *workspace.Service, store secretstore.Store, bus *events.Bus, logger zerolog.Logger) *RoleService {
	return &RoleService{
		workspace: ws,
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("provider", string(core.KindAwsSsoRole)).Logger(),
		newOIDC: func(region string) OIDCClient {
			return ssooidc.NewFromConfig(aws.Config{Region: region})
		},
		newPortal: func(region string) PortalClient {
			return sso.NewFromConfig(aws.Config{Region: region})
		},
		openURL:     browser.OpenURL,
		now:         time.Now,
		pollTimeout: defaultPollTimeout,
		state:       StateIdle,
		creds:       make(map[string]*core.Credentials),
	}
}

// Kind returns the session kind this provider produces.
func (s *RoleService) Kind() core.SessionKind {
	return core.KindAwsSsoRole
}

// SetPollTimeout bounds how long the service waits for the browser
// authorization to complete.
func (s *RoleService) SetPollTimeout(d time.Duration) {
	if d > 0 {
		s.pollTimeout = d
	}
}

// State returns the current federation state.
func (s *RoleService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RoleService) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// AwsSsoActive reports whether a non-expired access token is cached for the
// configured portal.
func (s *RoleService) AwsSsoActive() bool {
	cfg, err := s.workspace.GetAwsSsoConfiguration()
	if err != nil || cfg.ExpirationTime == nil {
		return false
	}
	if !s.now().Before(*cfg.ExpirationTime) {
		return false
	}
	_, err = s.store.Get(accessTokenKey)
	return err == nil
}

// Sync federates (interactively if no valid token is cached) and returns the
// full snapshot of assignable (account, role) descriptors. The caller
// reconciles the snapshot against existing sessions; this service never
// prunes on its own.
func (s *RoleService) Sync(ctx context.Context) ([]core.RoleDescriptor, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil, core.ErrSyncInProgress
	}
	syncCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateIdle
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	descriptors, err := s.sync(syncCtx)
	if err != nil {
		if errors.Is(err, core.ErrInterrupted) {
			s.setState(StateInterrupted)
		} else {
			s.setState(StateFailed)
			if s.bus != nil {
				s.bus.Publish(events.TopicLoginError, err.Error())
			}
		}
		return nil, err
	}

	s.setState(StateSynced)
	if s.bus != nil {
		s.bus.Publish(events.TopicSsoStatus, events.SsoStatusPayload{Active: true})
	}
	return descriptors, nil
}

func (s *RoleService) sync(ctx context.Context) ([]core.RoleDescriptor, error) {
	cfg, err := s.workspace.GetAwsSsoConfiguration()
	if err != nil {
		return nil, err
	}
	if cfg.PortalURL == "" || cfg.Region == "" {
		return nil, fmt.Errorf("aws sso is not configured: portal url and region are required")
	}

	token, err := s.ensureAccessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.setState(StateEnumeratingRoles)
	descriptors, err := s.enumerateRoles(ctx, cfg, token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextErr(ctx)
		}
		// Partial results are discarded, never merged.
		return nil, fmt.Errorf("%w: %v", core.ErrEnumeration, err)
	}
	return descriptors, nil
}

// ensureAccessToken returns the cached token when still valid, otherwise
// runs the interactive device-authorization flow.
func (s *RoleService) ensureAccessToken(ctx context.Context, cfg core.AwsSsoConfiguration) (string, error) {
	if cfg.ExpirationTime != nil && s.now().Before(*cfg.ExpirationTime) {
		if data, err := s.store.Get(accessTokenKey); err == nil {
			s.setState(StateTokenAcquired)
			return string(data), nil
		}
	}
	return s.login(ctx, cfg)
}

// login runs the device-authorization grant: register a client, start the
// authorization, hand the verification URL to the user, and poll for the
// token. The SSO protocol mandates polling here; the interval comes from the
// endpoint and the wait is bounded by the authorization's expiry capped by
// the configured budget.
func (s *RoleService) login(ctx context.Context, cfg core.AwsSsoConfiguration) (string, error) {
	s.setState(StateAwaitingBrowser)

	oidc := s.newOIDC(cfg.Region)
	reg, err := oidc.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: aws.String(clientName),
		ClientType: aws.String(clientType),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", contextErr(ctx)
		}
		return "", fmt.Errorf("registering sso client: %w", err)
	}

	auth, err := oidc.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     reg.ClientId,
		ClientSecret: reg.ClientSecret,
		StartUrl:     aws.String(cfg.PortalURL),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", contextErr(ctx)
		}
		return "", fmt.Errorf("starting device authorization: %w", err)
	}

	verificationURL := aws.ToString(auth.VerificationUriComplete)
	userCode := aws.ToString(auth.UserCode)
	s.presentAuthorization(cfg, verificationURL, userCode)

	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if s.pollEvery > 0 {
		interval = s.pollEvery
	}
	budget := time.Duration(auth.ExpiresIn) * time.Second
	if budget <= 0 || budget > s.pollTimeout {
		budget = s.pollTimeout
	}
	deadline := s.now().Add(budget)

	for {
		select {
		case <-ctx.Done():
			return "", contextErr(ctx)
		case <-time.After(interval):
		}
		if !s.now().Before(deadline) {
			return "", fmt.Errorf("%w: browser authorization not completed", core.ErrTimeout)
		}

		tok, err := oidc.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     reg.ClientId,
			ClientSecret: reg.ClientSecret,
			DeviceCode:   auth.DeviceCode,
			GrantType:    aws.String(deviceGrantType),
		})
		if err == nil {
			return s.commitToken(cfg, tok)
		}

		var pending *oidctypes.AuthorizationPendingException
		var slowDown *oidctypes.SlowDownException
		switch {
		case errors.As(err, &pending):
			continue
		case errors.As(err, &slowDown):
			interval *= 2
			continue
		}
		if ctx.Err() != nil {
			return "", contextErr(ctx)
		}
		return "", fmt.Errorf("exchanging device code: %w", err)
	}
}

// presentAuthorization opens the verification URL according to the
// workspace's browser-opening preference and always publishes it for the
// presentation layer.
func (s *RoleService) presentAuthorization(cfg core.AwsSsoConfiguration, url, userCode string) {
	opening := cfg.BrowserOpening
	if opening == "" {
		if settings, err := s.workspace.ExtractGlobalSettings(); err == nil {
			opening = settings.BrowserOpening
		}
	}
	if opening != core.BrowserOpeningInApp {
		if err := s.openURL(url); err != nil {
			s.logger.Warn().Err(err).Msg("could not open browser, url published instead")
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicSsoStatus, events.SsoStatusPayload{
			Active:          false,
			VerificationURL: url,
			UserCode:        userCode,
		})
	}
}

// commitToken stores the access token in the secure store and its expiry in
// the workspace.
func (s *RoleService) commitToken(cfg core.AwsSsoConfiguration, tok *ssooidc.CreateTokenOutput) (string, error) {
	accessToken := aws.ToString(tok.AccessToken)
	expiration := s.now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC()

	if err := s.store.Set(accessTokenKey, []byte(accessToken)); err != nil {
		return "", fmt.Errorf("storing access token: %w", err)
	}
	cfg.ExpirationTime = &expiration
	if err := s.workspace.SetAwsSsoConfiguration(cfg); err != nil {
		return "", err
	}

	s.setState(StateTokenAcquired)
	s.logger.Info().Time("token_expiration", expiration).Msg("sso access token acquired")
	return accessToken, nil
}

// enumerateRoles pages through every account and its assignable roles,
// producing one descriptor per (account, role) pair.
func (s *RoleService) enumerateRoles(ctx context.Context, cfg core.AwsSsoConfiguration, token string) ([]core.RoleDescriptor, error) {
	portal := s.newPortal(cfg.Region)
	defaultRegion := cfg.Region
	if settings, err := s.workspace.ExtractGlobalSettings(); err == nil && settings.DefaultRegion != "" {
		defaultRegion = settings.DefaultRegion
	}

	var accounts []ssotypes.AccountInfo
	var nextToken *string
	for {
		out, err := portal.ListAccounts(ctx, &sso.ListAccountsInput{
			AccessToken: aws.String(token),
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		accounts = append(accounts, out.AccountList...)
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	var descriptors []core.RoleDescriptor
	for _, account := range accounts {
		accountID := aws.ToString(account.AccountId)
		var roleToken *string
		for {
			out, err := portal.ListAccountRoles(ctx, &sso.ListAccountRolesInput{
				AccessToken: aws.String(token),
				AccountId:   account.AccountId,
				NextToken:   roleToken,
			})
			if err != nil {
				return nil, fmt.Errorf("listing roles for account %s: %w", accountID, err)
			}
			for _, role := range out.RoleList {
				roleName := aws.ToString(role.RoleName)
				descriptors = append(descriptors, core.RoleDescriptor{
					Kind:        core.KindAwsSsoRole,
					AccountID:   accountID,
					AccountName: aws.ToString(account.AccountName),
					RoleName:    roleName,
					RoleARN:     fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName),
					Email:       aws.ToString(account.EmailAddress),
					Region:      defaultRegion,
				})
			}
			if out.NextToken == nil {
				break
			}
			roleToken = out.NextToken
		}
	}

	s.logger.Info().Int("descriptors", len(descriptors)).Msg("role enumeration complete")
	return descriptors, nil
}

// Create materializes a descriptor into a persisted session. The session is
// created with a nil expiration: it has not been activated yet.
func (s *RoleService) Create(descriptor core.RoleDescriptor, profileID string) (*core.Session, error) {
	ws, err := s.workspace.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}

	session := core.Session{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("%s/%s", descriptor.AccountName, descriptor.RoleName),
		ProfileID:   profileID,
		Region:      descriptor.Region,
		Kind:        core.KindAwsSsoRole,
		Status:      core.StatusInactive,
		AccountID:   descriptor.AccountID,
		AccountName: descriptor.AccountName,
		RoleName:    descriptor.RoleName,
		RoleARN:     descriptor.RoleARN,
		Email:       descriptor.Email,
		CreatedAt:   s.now().UTC(),
	}

	updated := *ws
	updated.Sessions = append(append([]core.Session{}, ws.Sessions...), session)
	if err := s.workspace.PersistWorkspace(&updated); err != nil {
		return nil, err
	}
	return &session, nil
}

// Logout discards the cached token and credentials. Running syncs are forced
// into Interrupted. With lock set, this provider's sessions are marked
// locked instead of deleted.
func (s *RoleService) Logout(ctx context.Context, lock bool) error {
	s.Interrupt()

	cfg, err := s.workspace.GetAwsSsoConfiguration()
	if err != nil {
		return err
	}

	if data, err := s.store.Get(accessTokenKey); err == nil {
		// Best-effort portal-side invalidation; local state is
		// discarded regardless.
		portal := s.newPortal(cfg.Region)
		if _, err := portal.Logout(ctx, &sso.LogoutInput{AccessToken: aws.String(string(data))}); err != nil {
			s.logger.Warn().Err(err).Msg("portal logout failed")
		}
	}
	if err := s.store.Delete(accessTokenKey); err != nil {
		return err
	}

	cfg.ExpirationTime = nil
	if err := s.workspace.SetAwsSsoConfiguration(cfg); err != nil {
		return err
	}

	s.credMu.Lock()
	s.creds = make(map[string]*core.Credentials)
	s.credMu.Unlock()

	if lock {
		ws, err := s.workspace.GetWorkspace()
		if err != nil {
			return err
		}
		if ws != nil {
			updated := *ws
			updated.Sessions = append([]core.Session{}, ws.Sessions...)
			for i := range updated.Sessions {
				if updated.Sessions[i].Kind == core.KindAwsSsoRole {
					updated.Sessions[i].Locked = true
					updated.Sessions[i].Status = core.StatusInactive
				}
			}
			if err := s.workspace.PersistWorkspace(&updated); err != nil {
				return err
			}
		}
	}

	if s.bus != nil {
		s.bus.Publish(events.TopicSsoStatus, events.SsoStatusPayload{Active: false})
	}
	return nil
}

// Interrupt cancels the pending browser wait or in-flight enumeration.
// Idempotent: calling it twice, or after natural completion, is a no-op.
func (s *RoleService) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.state = StateInterrupted
	}
}

// contextErr maps a done context to the taxonomy: cancellation is a
// deliberate interrupt, deadline exhaustion is a timeout.
func contextErr(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", core.ErrTimeout, ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		return core.ErrInterrupted
	default:
		return ctx.Err()
	}
}
