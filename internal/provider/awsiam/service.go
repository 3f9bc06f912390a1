// Package awsiam implements the AWS IAM credential provider: long-lived
// user access keys held in the secure store, exchanged through STS for the
// temporary session tokens that callers actually receive, plus role chaining
// via AssumeRole.
package awsiam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"
)

const (
	// userKeyPrefix prefixes the secure-store slot holding a user
	// session's long-lived access keys, formatted "keyID:secret".
	userKeyPrefix = "iam-user/"

	sessionTokenDuration = 1 * time.Hour
	assumeRoleDuration   = 1 * time.Hour
)

// STSClient is the subset of the STS API the service uses. Satisfied by
// *sts.Client.
type STSClient interface {
	GetSessionToken(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error)
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Service manages IAM user sessions and the federated sessions chained from
// them.
type Service struct {
	workspace *workspace.Service
	store     secretstore.Store
	bus       *events.Bus
	logger    zerolog.Logger

	// newSTS builds a client from explicit static keys.
	newSTS func(region, accessKeyID, secretKey string) STSClient
	// newAmbientSTS builds a client from the default AWS config chain,
	// used when a federated session has no stored source keys.
	newAmbientSTS func(ctx context.Context, region string) (STSClient, error)
	now           func() time.Time

	credMu sync.Mutex
	creds  map[string]*core.Credentials
	flight singleflight.Group
}

// New creates the IAM credential service.
func New(ws *workspace.Service, store secretstore.Store, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		workspace: ws,
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("provider", string(core.KindAwsIamUser)).Logger(),
		newSTS: func(region, accessKeyID, secretKey string) STSClient {
			return sts.NewFromConfig(aws.Config{
				Region:      region,
				Credentials: credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, ""),
			})
		},
		newAmbientSTS: func(ctx context.Context, region string) (STSClient, error) {
			cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
			if err != nil {
				return nil, fmt.Errorf("loading default aws config: %w", err)
			}
			return sts.NewFromConfig(cfg), nil
		},
		now:   time.Now,
		creds: make(map[string]*core.Credentials),
	}
}

// Kind returns the session kind this provider produces.
func (s *Service) Kind() core.SessionKind {
	return core.KindAwsIamUser
}

// Sync is a no-op for IAM: user sessions are created from keys the operator
// supplies, there is no remote directory to enumerate.
func (s *Service) Sync(ctx context.Context) ([]core.RoleDescriptor, error) {
	return nil, nil
}

// CreateUserSession persists an IAM user session and stores its long-lived
// access keys in the secure store. The keys never enter the workspace
// document.
func (s *Service) CreateUserSession(ctx context.Context, name, region, profileID, accessKeyID, secretKey string) (*core.Session, error) {
	ws, err := s.workspace.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}

	// Validate the keys before persisting anything.
	client := s.newSTS(region, accessKeyID, secretKey)
	identity, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("validating access keys: %w", err)
	}

	session := core.Session{
		ID:        uuid.New().String(),
		Name:      name,
		ProfileID: profileID,
		Region:    region,
		Kind:      core.KindAwsIamUser,
		Status:    core.StatusInactive,
		AccountID: aws.ToString(identity.Account),
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.Set(userKeyPrefix+session.ID, encodeKeys(accessKeyID, secretKey)); err != nil {
		return nil, fmt.Errorf("storing access keys: %w", err)
	}

	updated := *ws
	updated.Sessions = append(append([]core.Session{}, ws.Sessions...), session)
	if err := s.workspace.PersistWorkspace(&updated); err != nil {
		// Roll back the orphaned secret.
		_ = s.store.Delete(userKeyPrefix + session.ID)
		return nil, err
	}
	return &session, nil
}

// Create materializes a federated (assume-role) session chained from an IAM
// user. The descriptor's RoleARN names the target role; TenantID carries the
// source user session's ID.
func (s *Service) Create(descriptor core.RoleDescriptor, profileID string) (*core.Session, error) {
	if descriptor.RoleARN == "" {
		return nil, fmt.Errorf("federated session requires a role arn")
	}

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
		Kind:        core.KindAwsFederated,
		Status:      core.StatusInactive,
		AccountID:   descriptor.AccountID,
		AccountName: descriptor.AccountName,
		RoleName:    descriptor.RoleName,
		RoleARN:     descriptor.RoleARN,
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

// Credentials returns temporary material for the session, serving from cache
// while valid. IAM user sessions exchange their static keys via
// GetSessionToken; federated sessions assume their role via AssumeRole.
func (s *Service) Credentials(ctx context.Context, session *core.Session) (*core.Credentials, error) {
	if cached := s.cachedCredentials(session.ID); cached != nil {
		return cached, nil
	}

	v, err, _ := s.flight.Do(session.ID, func() (any, error) {
		if cached := s.cachedCredentials(session.ID); cached != nil {
			return cached, nil
		}
		switch session.Kind {
		case core.KindAwsIamUser:
			return s.sessionToken(ctx, session)
		case core.KindAwsFederated:
			return s.assumeRole(ctx, session)
		default:
			return nil, fmt.Errorf("session %s is not an iam session", session.ID)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Credentials), nil
}

// Invalidate drops cached credentials for the session.
func (s *Service) Invalidate(sessionID string) {
	s.credMu.Lock()
	delete(s.creds, sessionID)
	s.credMu.Unlock()
	s.flight.Forget(sessionID)
}

// Logout discards every cached credential. With lock set, IAM sessions are
// marked locked. Stored access keys are kept: they are the operator's
// long-lived material, removed only with the session itself.
func (s *Service) Logout(ctx context.Context, lock bool) error {
	s.credMu.Lock()
	s.creds = make(map[string]*core.Credentials)
	s.credMu.Unlock()

	if !lock {
		return nil
	}

	ws, err := s.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	updated := *ws
	updated.Sessions = append([]core.Session{}, ws.Sessions...)
	for i := range updated.Sessions {
		switch updated.Sessions[i].Kind {
		case core.KindAwsIamUser, core.KindAwsFederated:
			updated.Sessions[i].Locked = true
			updated.Sessions[i].Status = core.StatusInactive
		}
	}
	return s.workspace.PersistWorkspace(&updated)
}

// Interrupt is a no-op: IAM flows are single STS calls with no browser wait.
func (s *Service) Interrupt() {}

// DeleteKeys removes a user session's stored access keys. Called by the
// session manager when the session is removed.
func (s *Service) DeleteKeys(sessionID string) error {
	return s.store.Delete(userKeyPrefix + sessionID)
}

func (s *Service) cachedCredentials(sessionID string) *core.Credentials {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	if c, ok := s.creds[sessionID]; ok && c.Valid(s.now()) {
		return c
	}
	return nil
}

// sessionToken exchanges the stored long-lived keys for a temporary session
// token.
func (s *Service) sessionToken(ctx context.Context, session *core.Session) (*core.Credentials, error) {
	accessKeyID, secretKey, err := s.loadKeys(session.ID)
	if err != nil {
		return nil, err
	}

	client := s.newSTS(session.Region, accessKeyID, secretKey)
	out, err := client.GetSessionToken(ctx, &sts.GetSessionTokenInput{
		DurationSeconds: aws.Int32(int32(sessionTokenDuration.Seconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("requesting session token for %s: %w", session.ID, err)
	}
	return s.commit(session.ID, out.Credentials.AccessKeyId, out.Credentials.SecretAccessKey, out.Credentials.SessionToken, out.Credentials.Expiration), nil
}

// assumeRole chains into the session's role. The source identity is the
// linked user session's stored keys when present, otherwise the ambient
// default-config chain.
func (s *Service) assumeRole(ctx context.Context, session *core.Session) (*core.Credentials, error) {
	var client STSClient
	if session.TenantID != "" {
		accessKeyID, secretKey, err := s.loadKeys(session.TenantID)
		if err != nil {
			return nil, fmt.Errorf("loading source session keys: %w", err)
		}
		client = s.newSTS(session.Region, accessKeyID, secretKey)
	} else {
		var err error
		client, err = s.newAmbientSTS(ctx, session.Region)
		if err != nil {
			return nil, err
		}
	}

	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(session.RoleARN),
		RoleSessionName: aws.String(roleSessionName(session)),
		DurationSeconds: aws.Int32(int32(assumeRoleDuration.Seconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("assuming role %s: %w", session.RoleARN, err)
	}
	return s.commit(session.ID, out.Credentials.AccessKeyId, out.Credentials.SecretAccessKey, out.Credentials.SessionToken, out.Credentials.Expiration), nil
}

func (s *Service) commit(sessionID string, accessKeyID, secretKey, token *string, expiration *time.Time) *core.Credentials {
	creds := &core.Credentials{
		AccessKeyID:     aws.ToString(accessKeyID),
		SecretAccessKey: aws.ToString(secretKey),
		SessionToken:    aws.ToString(token),
	}
	if expiration != nil {
		creds.Expiration = expiration.UTC()
	} else {
		creds.Expiration = s.now().Add(sessionTokenDuration).UTC()
	}

	s.credMu.Lock()
	s.creds[sessionID] = creds
	s.credMu.Unlock()

	s.logger.Debug().
		Str("session_id", sessionID).
		Time("expiration", creds.Expiration).
		Msg("sts credentials issued")
	return creds
}

func (s *Service) loadKeys(sessionID string) (accessKeyID, secretKey string, err error) {
	data, err := s.store.Get(userKeyPrefix + sessionID)
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			return "", "", fmt.Errorf("%w: no access keys stored for session %s", core.ErrTokenExpired, sessionID)
		}
		return "", "", err
	}
	id, key, ok := strings.Cut(string(data), ":")
	if !ok {
		return "", "", fmt.Errorf("malformed key material for session %s", sessionID)
	}
	return id, key, nil
}

func encodeKeys(accessKeyID, secretKey string) []byte {
	return []byte(accessKeyID + ":" + secretKey)
}

// roleSessionName derives a role-session name STS will accept.
func roleSessionName(session *core.Session) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, session.Name)
	if name == "" {
		name = session.ID
	}
	name = "cloudgate-" + name
	// STS caps role session names at 64 characters.
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
