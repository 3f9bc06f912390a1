// Package sdk is the plugin developer interface for cloudgate. A plugin
// implements Plugin, declares its metadata via PluginMeta, and receives an
// Environment scoped to exactly five capabilities: command execution, host
// OS operations, read-only repository access, and the AWS and Azure facades.
// Session lifecycle control and raw credential material are deliberately
// outside the surface.
package sdk

import "context"

// PluginMeta declares everything the runtime needs to know about a plugin
// before running it.
type PluginMeta struct {
	ID          string   `json:"id"` // e.g. org.example.ssh-config
	Name        string   `json:"name"`
	Version     string   `json:"version"` // semver
	Description string   `json:"description"`
	Author      string   `json:"author"`
	// SupportedOS restricts the plugin to hosts ("linux", "darwin",
	// "windows"). Empty means all.
	SupportedOS []string `json:"supported_os,omitempty"`
	// SupportedSessionKinds restricts which session kinds the plugin
	// accepts. Empty means all.
	SupportedSessionKinds []string `json:"supported_session_kinds,omitempty"`
	Tags                  []string `json:"tags,omitempty"`
}

// SessionSnapshot is an immutable copy of a session's non-secret state.
type SessionSnapshot struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Region      string  `json:"region"`
	ProfileName string  `json:"profile_name"`
	AccountID   string  `json:"account_id"`
	AccountName string  `json:"account_name"`
	RoleName    string  `json:"role_name,omitempty"`
	TenantID    string  `json:"tenant_id,omitempty"`
	Expiration  *string `json:"expiration,omitempty"` // RFC 3339
}

// SettingsSnapshot is an immutable copy of the workspace-wide settings.
type SettingsSnapshot struct {
	DefaultRegion string `json:"default_region"`
	ProxyURL      string `json:"proxy_url,omitempty"`
}

// CommandRunner executes external commands on the host.
type CommandRunner interface {
	// Run executes a command and returns captured stdout and stderr.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// OSService exposes host operations.
type OSService interface {
	OpenExternalURL(url string) error
	OS() string
	HomeDir() (string, error)
}

// Repository is read-only access to non-secret workspace state.
type Repository interface {
	Sessions() ([]SessionSnapshot, error)
	Settings() (SettingsSnapshot, error)
}

// RoleDescriptor is a discovered cloud role or subscription assignment. It
// carries coordinates only, never secret material.
type RoleDescriptor struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
	RoleName    string `json:"role_name,omitempty"`
	RoleARN     string `json:"role_arn,omitempty"`
	Region      string `json:"region"`
	TenantID    string `json:"tenant_id,omitempty"`
}

// AwsFacade exposes the AWS credential-provider primitives to plugins:
// role discovery and session materialization. Issued credentials are not
// reachable through it.
type AwsFacade interface {
	// Sync federates if needed, reconciles the discovered roles into the
	// workspace, and returns the snapshot.
	Sync(ctx context.Context) ([]RoleDescriptor, error)
	// CreateSession materializes a discovered role into a session under
	// the named profile. Empty profileName means the default profile.
	CreateSession(descriptor RoleDescriptor, profileName string) (SessionSnapshot, error)
}

// AzureFacade exposes the Azure credential-provider primitives to plugins.
type AzureFacade interface {
	// TenantID returns the configured tenant.
	TenantID() (string, error)
	// Sync enumerates the tenant's subscriptions and reconciles them into
	// the workspace.
	Sync(ctx context.Context) ([]RoleDescriptor, error)
	// CreateSession materializes a discovered subscription into a session
	// under the named profile.
	CreateSession(descriptor RoleDescriptor, profileName string) (SessionSnapshot, error)
}

// Environment is the capability set handed to a running plugin.
type Environment struct {
	Command    CommandRunner
	OS         OSService
	Repository Repository
	Aws        AwsFacade
	Azure      AzureFacade
	// Logf writes a line to the host log under the plugin's name.
	Logf func(format string, args ...any)
}

// Plugin is the contract every cloudgate plugin implements.
type Plugin interface {
	Meta() PluginMeta
	// Run is invoked with the selected session's snapshot. The snapshot
	// never contains secret material.
	Run(ctx context.Context, env *Environment, session SessionSnapshot, args []string) error
}
