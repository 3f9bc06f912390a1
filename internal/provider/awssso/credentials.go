package awssso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/sso/types"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
)

// Credentials returns the session's role credentials, serving from cache
// while they remain valid. A stale cache triggers exactly one exchange
// against the portal; concurrent callers for the same session share that
// in-flight exchange. An expired federation token surfaces
// core.ErrTokenExpired rather than re-triggering the interactive flow.
func (s *RoleService) Credentials(ctx context.Context, session *core.Session) (*core.Credentials, error) {
	if session.Kind != core.KindAwsSsoRole {
		return nil, fmt.Errorf("session %s is not an sso role session", session.ID)
	}

	if cached := s.cachedCredentials(session.ID); cached != nil {
		return cached, nil
	}

	v, err, _ := s.flight.Do(session.ID, func() (any, error) {
		// A caller that queued behind the winner may find a fresh
		// cache once it gets here.
		if cached := s.cachedCredentials(session.ID); cached != nil {
			return cached, nil
		}
		return s.exchange(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Credentials), nil
}

// Invalidate drops cached credentials for the session.
func (s *RoleService) Invalidate(sessionID string) {
	s.credMu.Lock()
	delete(s.creds, sessionID)
	s.credMu.Unlock()
	s.flight.Forget(sessionID)
}

func (s *RoleService) cachedCredentials(sessionID string) *core.Credentials {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	if c, ok := s.creds[sessionID]; ok && c.Valid(s.now()) {
		return c
	}
	return nil
}

// exchange trades the federation token for fresh role credentials.
func (s *RoleService) exchange(ctx context.Context, session *core.Session) (*core.Credentials, error) {
	cfg, err := s.workspace.GetAwsSsoConfiguration()
	if err != nil {
		return nil, err
	}
	if cfg.ExpirationTime == nil || !s.now().Before(*cfg.ExpirationTime) {
		return nil, fmt.Errorf("%w: log in again to refresh session %s", core.ErrTokenExpired, session.ID)
	}

	tokenData, err := s.store.Get(accessTokenKey)
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: no access token on record", core.ErrTokenExpired)
		}
		return nil, err
	}

	portal := s.newPortal(cfg.Region)
	out, err := portal.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: aws.String(string(tokenData)),
		AccountId:   aws.String(session.AccountID),
		RoleName:    aws.String(session.RoleName),
	})
	if err != nil {
		var unauthorized *ssotypes.UnauthorizedException
		if errors.As(err, &unauthorized) {
			return nil, fmt.Errorf("%w: portal rejected the access token", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("retrieving role credentials for %s: %w", session.CompositeKey(), err)
	}

	rc := out.RoleCredentials
	creds := &core.Credentials{
		AccessKeyID:     aws.ToString(rc.AccessKeyId),
		SecretAccessKey: aws.ToString(rc.SecretAccessKey),
		SessionToken:    aws.ToString(rc.SessionToken),
		Expiration:      time.UnixMilli(rc.Expiration).UTC(),
	}

	s.credMu.Lock()
	s.creds[session.ID] = creds
	s.credMu.Unlock()

	s.logger.Debug().
		Str("session_id", session.ID).
		Time("expiration", creds.Expiration).
		Msg("role credentials refreshed")
	return creds, nil
}
