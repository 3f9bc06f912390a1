// Package azure implements the Azure credential provider: device-code
// authentication against a tenant and subscription discovery through the
// Resource Manager API. Azure sessions carry bearer tokens, not access-key
// triples.
package azure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"
)

// managementScope is the ARM audience requested for session tokens.
const managementScope = "https://management.azure.com/.default"

// SubscriptionLister enumerates the subscriptions visible to a credential.
// The production implementation pages through the ARM subscriptions API.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]*armsubscriptions.Subscription, error)
}

// Service drives Azure device-code authentication and subscription-backed
// sessions.
type Service struct {
	workspace *workspace.Service
	store     secretstore.Store
	bus       *events.Bus
	logger    zerolog.Logger

	newCredential func(tenantID string, prompt func(url, code string)) (azcore.TokenCredential, error)
	newLister     func(cred azcore.TokenCredential) (SubscriptionLister, error)
	now           func() time.Time

	mu         sync.Mutex
	cancel     context.CancelFunc
	credential azcore.TokenCredential

	credMu sync.Mutex
	creds  map[string]*core.Credentials
	flight singleflight.Group
}

// New creates the Azure credential service.
func New(ws *workspace.Service, store secretstore.Store, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		workspace: ws,
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("provider", string(core.KindAzure)).Logger(),
		newCredential: func(tenantID string, prompt func(url, code string)) (azcore.TokenCredential, error) {
			return azidentity.NewDeviceCodeCredential(&azidentity.DeviceCodeCredentialOptions{
				TenantID: tenantID,
				UserPrompt: func(_ context.Context, msg azidentity.DeviceCodeMessage) error {
					prompt(msg.VerificationURL, msg.UserCode)
					return nil
				},
			})
		},
		newLister: func(cred azcore.TokenCredential) (SubscriptionLister, error) {
			client, err := armsubscriptions.NewClient(cred, nil)
			if err != nil {
				return nil, fmt.Errorf("creating subscriptions client: %w", err)
			}
			return &armLister{client: client}, nil
		},
		now:   time.Now,
		creds: make(map[string]*core.Credentials),
	}
}

// armLister pages through the ARM subscriptions list.
type armLister struct {
	client *armsubscriptions.Client
}

func (l *armLister) ListSubscriptions(ctx context.Context) ([]*armsubscriptions.Subscription, error) {
	var subs []*armsubscriptions.Subscription
	pager := l.client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		subs = append(subs, page.Value...)
	}
	return subs, nil
}

// Kind returns the session kind this provider produces.
func (s *Service) Kind() core.SessionKind {
	return core.KindAzure
}

// Sync authenticates against the configured tenant (interactively via the
// device-code prompt when no credential is cached) and returns one
// descriptor per visible subscription.
func (s *Service) Sync(ctx context.Context) ([]core.RoleDescriptor, error) {
	cfg, err := s.workspace.GetAzureConfiguration()
	if err != nil {
		return nil, err
	}
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("azure is not configured: tenant id is required")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil, core.ErrSyncInProgress
	}
	syncCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	descriptors, err := s.sync(syncCtx, cfg)
	if err != nil {
		if errors.Is(syncCtx.Err(), context.Canceled) && ctx.Err() == nil {
			return nil, core.ErrInterrupted
		}
		if s.bus != nil {
			s.bus.Publish(events.TopicLoginError, err.Error())
		}
		return nil, err
	}
	return descriptors, nil
}

func (s *Service) sync(ctx context.Context, cfg core.AzureConfiguration) ([]core.RoleDescriptor, error) {
	cred, err := s.ensureCredential(cfg.TenantID)
	if err != nil {
		return nil, err
	}

	lister, err := s.newLister(cred)
	if err != nil {
		return nil, err
	}

	subs, err := lister.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing subscriptions: %v", core.ErrEnumeration, err)
	}

	descriptors := make([]core.RoleDescriptor, 0, len(subs))
	for _, sub := range subs {
		if sub == nil || sub.SubscriptionID == nil {
			continue
		}
		d := core.RoleDescriptor{
			Kind:      core.KindAzure,
			AccountID: *sub.SubscriptionID,
			TenantID:  cfg.TenantID,
			Region:    cfg.Location,
		}
		if sub.DisplayName != nil {
			d.AccountName = *sub.DisplayName
		}
		descriptors = append(descriptors, d)
	}

	s.logger.Info().Int("subscriptions", len(descriptors)).Msg("subscription enumeration complete")
	return descriptors, nil
}

// ensureCredential reuses the in-memory credential when present; azidentity
// caches and silently refreshes its tokens internally.
func (s *Service) ensureCredential(tenantID string) (azcore.TokenCredential, error) {
	s.mu.Lock()
	if s.credential != nil {
		cred := s.credential
		s.mu.Unlock()
		return cred, nil
	}
	s.mu.Unlock()

	cred, err := s.newCredential(tenantID, func(url, code string) {
		if s.bus != nil {
			s.bus.Publish(events.TopicSsoStatus, events.SsoStatusPayload{
				Active:          false,
				VerificationURL: url,
				UserCode:        code,
			})
		}
		s.logger.Info().Str("verification_url", url).Msg("complete the device code prompt in your browser")
	})
	if err != nil {
		return nil, fmt.Errorf("creating device code credential: %w", err)
	}

	s.mu.Lock()
	s.credential = cred
	s.mu.Unlock()
	return cred, nil
}

// Create materializes a subscription descriptor into a persisted session.
func (s *Service) Create(descriptor core.RoleDescriptor, profileID string) (*core.Session, error) {
	ws, err := s.workspace.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}

	name := descriptor.AccountName
	if name == "" {
		name = descriptor.AccountID
	}
	session := core.Session{
		ID:          uuid.New().String(),
		Name:        name,
		ProfileID:   profileID,
		Region:      descriptor.Region,
		Kind:        core.KindAzure,
		Status:      core.StatusInactive,
		AccountID:   descriptor.AccountID,
		AccountName: descriptor.AccountName,
		TenantID:    descriptor.TenantID,
		CreatedAt:   s.now().UTC(),
	}

	updated := *ws
	updated.Sessions = append(append([]core.Session{}, ws.Sessions...), session)
	if err := s.workspace.PersistWorkspace(&updated); err != nil {
		return nil, err
	}
	return &session, nil
}

// Credentials returns a bearer token for the session's tenant, serving from
// cache while valid. Without an authenticated credential the caller gets
// core.ErrTokenExpired; retrieval never re-triggers the interactive prompt
// on its own.
func (s *Service) Credentials(ctx context.Context, session *core.Session) (*core.Credentials, error) {
	if session.Kind != core.KindAzure {
		return nil, fmt.Errorf("session %s is not an azure session", session.ID)
	}

	if cached := s.cachedCredentials(session.ID); cached != nil {
		return cached, nil
	}

	s.mu.Lock()
	cred := s.credential
	s.mu.Unlock()
	if cred == nil {
		return nil, fmt.Errorf("%w: no azure credential, run sync first", core.ErrTokenExpired)
	}

	v, err, _ := s.flight.Do(session.ID, func() (any, error) {
		if cached := s.cachedCredentials(session.ID); cached != nil {
			return cached, nil
		}
		token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}})
		if err != nil {
			return nil, fmt.Errorf("acquiring management token: %w", err)
		}
		creds := &core.Credentials{
			BearerToken: token.Token,
			Expiration:  token.ExpiresOn.UTC(),
		}
		s.credMu.Lock()
		s.creds[session.ID] = creds
		s.credMu.Unlock()
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Credentials), nil
}

func (s *Service) cachedCredentials(sessionID string) *core.Credentials {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	if c, ok := s.creds[sessionID]; ok && c.Valid(s.now()) {
		return c
	}
	return nil
}

// Invalidate drops cached credentials for the session.
func (s *Service) Invalidate(sessionID string) {
	s.credMu.Lock()
	delete(s.creds, sessionID)
	s.credMu.Unlock()
	s.flight.Forget(sessionID)
}

// Logout discards the credential and every cached token. With lock set,
// Azure sessions are marked locked.
func (s *Service) Logout(ctx context.Context, lock bool) error {
	s.Interrupt()

	s.mu.Lock()
	s.credential = nil
	s.mu.Unlock()

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
				if updated.Sessions[i].Kind == core.KindAzure {
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

// Interrupt cancels an in-flight sync. Idempotent.
func (s *Service) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
