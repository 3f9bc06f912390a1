package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/native"
	"github.com/cloudgate-framework/cloudgate/internal/session"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"
	sdk "github.com/cloudgate-framework/cloudgate/pkg/sdk/v1"
)

// Facade assembles the capability environment plugins run against. It is the
// only bridge between plugin code and the core: command execution, host
// operations, read-only repository state, and the two cloud facades. Session
// lifecycle control and raw credentials are not reachable through it.
type Facade struct {
	registry  *Registry
	workspace *workspace.Service
	manager   *session.Manager
	exec      *native.ExecuteService
	host      *native.Service
	logger    zerolog.Logger
}

// NewFacade creates the plugin facade.
func NewFacade(registry *Registry, ws *workspace.Service, manager *session.Manager, exec *native.ExecuteService, host *native.Service, logger zerolog.Logger) *Facade {
	return &Facade{
		registry:  registry,
		workspace: ws,
		manager:   manager,
		exec:      exec,
		host:      host,
		logger:    logger.With().Str("component", "plugin").Logger(),
	}
}

// Run executes a plugin against a session. The plugin receives a non-secret
// snapshot and the scoped environment.
func (f *Facade) Run(ctx context.Context, pluginID, sessionID string, args []string) error {
	p, err := f.registry.Get(pluginID)
	if err != nil {
		return err
	}
	meta := p.Meta()

	if len(meta.SupportedOS) > 0 && !contains(meta.SupportedOS, f.host.OS()) {
		return fmt.Errorf("plugin %s does not support %s", meta.ID, f.host.OS())
	}

	ws, err := f.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}
	sess := ws.SessionByID(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	if len(meta.SupportedSessionKinds) > 0 && !contains(meta.SupportedSessionKinds, string(sess.Kind)) {
		return fmt.Errorf("plugin %s does not support %s sessions", meta.ID, sess.Kind)
	}

	snapshot := f.snapshot(ws, sess)
	env := f.environment(meta)

	f.logger.Info().Str("plugin", meta.ID).Str("session_id", sessionID).Msg("running plugin")
	if err := p.Run(ctx, env, snapshot, args); err != nil {
		return fmt.Errorf("plugin %s: %w", meta.ID, err)
	}
	return nil
}

// List returns the registered plugin metadata.
func (f *Facade) List() []sdk.PluginMeta {
	return f.registry.List()
}

func (f *Facade) environment(meta sdk.PluginMeta) *sdk.Environment {
	pluginLogger := f.logger.With().Str("plugin", meta.ID).Logger()
	return &sdk.Environment{
		Command:    f.exec,
		OS:         f.host,
		Repository: &repositoryView{workspace: f.workspace},
		Aws:        &awsView{facade: f},
		Azure:      &azureView{facade: f},
		Logf: func(format string, args ...any) {
			pluginLogger.Info().Msgf(format, args...)
		},
	}
}

func (f *Facade) snapshot(ws *core.Workspace, sess *core.Session) sdk.SessionSnapshot {
	return makeSnapshot(ws, sess)
}

func makeSnapshot(ws *core.Workspace, sess *core.Session) sdk.SessionSnapshot {
	snap := sdk.SessionSnapshot{
		ID:          sess.ID,
		Name:        sess.Name,
		Kind:        string(sess.Kind),
		Status:      string(sess.Status),
		Region:      sess.Region,
		AccountID:   sess.AccountID,
		AccountName: sess.AccountName,
		RoleName:    sess.RoleName,
		TenantID:    sess.TenantID,
	}
	for _, p := range ws.Profiles {
		if p.ID == sess.ProfileID {
			snap.ProfileName = p.Name
			break
		}
	}
	if sess.Expiration != nil {
		exp := sess.Expiration.Format(time.RFC3339)
		snap.Expiration = &exp
	}
	return snap
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// repositoryView is the read-only workspace surface.
type repositoryView struct {
	workspace *workspace.Service
}

func (v *repositoryView) Sessions() ([]sdk.SessionSnapshot, error) {
	ws, err := v.workspace.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	snaps := make([]sdk.SessionSnapshot, 0, len(ws.Sessions))
	for i := range ws.Sessions {
		snaps = append(snaps, makeSnapshot(ws, &ws.Sessions[i]))
	}
	return snaps, nil
}

func (v *repositoryView) Settings() (sdk.SettingsSnapshot, error) {
	settings, err := v.workspace.ExtractGlobalSettings()
	if err != nil {
		return sdk.SettingsSnapshot{}, err
	}
	snap := sdk.SettingsSnapshot{DefaultRegion: settings.DefaultRegion}
	if settings.Proxy.URL != "" {
		snap.ProxyURL = fmt.Sprintf("%s://%s:%d", settings.Proxy.Protocol, settings.Proxy.URL, settings.Proxy.Port)
	}
	return snap, nil
}

// awsView is the AWS facade capability: the provider's sync/create
// primitives, scoped to the SSO role kind.
type awsView struct {
	facade *Facade
}

func (v *awsView) Sync(ctx context.Context) ([]sdk.RoleDescriptor, error) {
	return v.facade.syncKind(ctx, core.KindAwsSsoRole)
}

func (v *awsView) CreateSession(descriptor sdk.RoleDescriptor, profileName string) (sdk.SessionSnapshot, error) {
	return v.facade.createSession(core.KindAwsSsoRole, descriptor, profileName)
}

// azureView is the Azure facade capability.
type azureView struct {
	facade *Facade
}

func (v *azureView) TenantID() (string, error) {
	cfg, err := v.facade.workspace.GetAzureConfiguration()
	if err != nil {
		return "", err
	}
	return cfg.TenantID, nil
}

func (v *azureView) Sync(ctx context.Context) ([]sdk.RoleDescriptor, error) {
	return v.facade.syncKind(ctx, core.KindAzure)
}

func (v *azureView) CreateSession(descriptor sdk.RoleDescriptor, profileName string) (sdk.SessionSnapshot, error) {
	return v.facade.createSession(core.KindAzure, descriptor, profileName)
}

// syncKind runs the provider's discovery through the session manager and
// returns the reconciled snapshot in SDK form.
func (f *Facade) syncKind(ctx context.Context, kind core.SessionKind) ([]sdk.RoleDescriptor, error) {
	descriptors, err := f.manager.Sync(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]sdk.RoleDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, sdk.RoleDescriptor{
			AccountID:   d.AccountID,
			AccountName: d.AccountName,
			RoleName:    d.RoleName,
			RoleARN:     d.RoleARN,
			Region:      d.Region,
			TenantID:    d.TenantID,
		})
	}
	return out, nil
}

// createSession materializes a descriptor through the kind's provider.
func (f *Facade) createSession(kind core.SessionKind, d sdk.RoleDescriptor, profileName string) (sdk.SessionSnapshot, error) {
	p, err := f.manager.Provider(kind)
	if err != nil {
		return sdk.SessionSnapshot{}, err
	}

	var profileID string
	if profileName == "" {
		profileID, err = f.workspace.GetDefaultProfileID()
	} else {
		var profile *core.Profile
		profile, err = f.workspace.EnsureProfile(profileName)
		if profile != nil {
			profileID = profile.ID
		}
	}
	if err != nil {
		return sdk.SessionSnapshot{}, err
	}

	sess, err := p.Create(core.RoleDescriptor{
		Kind:        kind,
		AccountID:   d.AccountID,
		AccountName: d.AccountName,
		RoleName:    d.RoleName,
		RoleARN:     d.RoleARN,
		Region:      d.Region,
		TenantID:    d.TenantID,
	}, profileID)
	if err != nil {
		return sdk.SessionSnapshot{}, err
	}

	ws, err := f.workspace.GetWorkspace()
	if err != nil {
		return sdk.SessionSnapshot{}, err
	}
	return makeSnapshot(ws, sess), nil
}
