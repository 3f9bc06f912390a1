// Package core defines the foundational types for cloudgate. The persisted
// primitives (Workspace, Session, Profile, Segment, Folder, GlobalSettings)
// organize every operation and are shared across the repository, the
// credential providers, the session manager, and the plugin facade.
package core

import (
	"fmt"
	"time"
)

// SessionKind identifies which credential provider produced a session.
type SessionKind string

const (
	KindAwsSsoRole   SessionKind = "aws_sso_role"
	KindAwsIamUser   SessionKind = "aws_iam_user"
	KindAwsFederated SessionKind = "aws_federated"
	KindAzure        SessionKind = "azure"
)

// SessionStatus tracks the activation state of a session.
type SessionStatus string

const (
	StatusInactive SessionStatus = "inactive"
	StatusPending  SessionStatus = "pending"
	StatusActive   SessionStatus = "active"
)

// BrowserOpening selects how the SSO authorization URL is presented.
type BrowserOpening string

const (
	BrowserOpeningExternal BrowserOpening = "external" // open the system browser
	BrowserOpeningInApp    BrowserOpening = "in_app"   // emit the URL for the host app to render
)

// Session is one assumable cloud identity/role persisted in the workspace.
// Secret material is never stored here; it lives in the secure store keyed
// by the session ID.
type Session struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	ProfileID  string        `json:"profileId"`
	Region     string        `json:"region"`
	Kind       SessionKind   `json:"kind"`
	Status     SessionStatus `json:"status"`
	Expiration *time.Time    `json:"expiration"` // nil until first activation
	Pinned     bool          `json:"pinned"`
	Locked     bool          `json:"locked"` // requires re-authentication
	FolderID   string        `json:"folderId"`
	SegmentIDs []string      `json:"segmentIds"`

	// Provider-specific coordinates.
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	RoleName    string `json:"roleName"`
	RoleARN     string `json:"roleArn"`
	Email       string `json:"email"`
	TenantID    string `json:"tenantId"`

	CreatedAt time.Time `json:"createdAt"`
}

// CompositeKey identifies a session by its (provider, account, role) triple.
// Sync reconciliation upserts by this key, so the same remote role never
// materializes twice.
func (s *Session) CompositeKey() string {
	return compositeKey(s.Kind, s.AccountID, s.RoleName)
}

func compositeKey(kind SessionKind, accountID, roleName string) string {
	return fmt.Sprintf("%s/%s/%s", kind, accountID, roleName)
}

// RoleDescriptor is a discovered (account, role) pairing returned by provider
// sync. It is a snapshot entry, not yet a persisted session.
type RoleDescriptor struct {
	Kind        SessionKind `json:"kind"`
	AccountID   string      `json:"accountId"`
	AccountName string      `json:"accountName"`
	RoleName    string      `json:"roleName"`
	RoleARN     string      `json:"roleArn"`
	Email       string      `json:"email"`
	Region      string      `json:"region"`
	TenantID    string      `json:"tenantId,omitempty"`
}

// CompositeKey mirrors Session.CompositeKey for reconciliation.
func (d RoleDescriptor) CompositeKey() string {
	return compositeKey(d.Kind, d.AccountID, d.RoleName)
}

// Credentials is ephemeral secret material bound to exactly one session.
// It is held in memory and in the secure store, never in the workspace
// document.
type Credentials struct {
	AccessKeyID     string    `json:"accessKeyId,omitempty"`
	SecretAccessKey string    `json:"secretAccessKey,omitempty"`
	SessionToken    string    `json:"sessionToken,omitempty"`
	BearerToken     string    `json:"bearerToken,omitempty"` // Azure access token
	Expiration      time.Time `json:"expiration"`
}

// Valid reports whether the credentials are still within their lifetime.
func (c *Credentials) Valid(now time.Time) bool {
	return c != nil && now.Before(c.Expiration)
}

// Profile names a credential profile sessions belong to.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultProfileName is the name of the profile created on first run.
const DefaultProfileName = "default"

// Segment is a named, user-defined grouping of sessions used for filtering.
// Membership is many-to-many: sessions list the segments they belong to.
type Segment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder is a single-membership grouping: each session references at most
// one folder.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProxyConfiguration holds the optional outbound proxy settings.
type ProxyConfiguration struct {
	Protocol string `json:"protocol"`
	URL      string `json:"url"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

// GlobalSettings is workspace-wide configuration owned by the workspace and
// mutated only through the workspace service.
type GlobalSettings struct {
	DefaultRegion  string             `json:"defaultRegion"`
	Proxy          ProxyConfiguration `json:"proxy"`
	BrowserOpening BrowserOpening     `json:"browserOpening"`
}

// AwsSsoConfiguration is the portal coordinates and token expiry for the AWS
// SSO federation. The access token itself lives in the secure store.
type AwsSsoConfiguration struct {
	Region         string         `json:"region"`
	PortalURL      string         `json:"portalUrl"`
	BrowserOpening BrowserOpening `json:"browserOpening"`
	ExpirationTime *time.Time     `json:"expirationTime"`
}

// AzureConfiguration holds the tenant coordinates for the Azure provider.
type AzureConfiguration struct {
	TenantID string `json:"tenantId"`
	Location string `json:"location"`
}

// SchemaVersion marks the workspace document layout. Bump only on breaking
// layout changes; unknown fields from newer writers are preserved on rewrite.
const SchemaVersion = "1"

// Workspace is the single persisted root document. Exactly one exists per
// installation; it is created on first run and owned by the repository.
type Workspace struct {
	ID               string              `json:"id"`
	Version          string              `json:"version"`
	DefaultProfileID string              `json:"defaultProfileId"`
	Profiles         []Profile           `json:"profiles"`
	Sessions         []Session           `json:"sessions"`
	Segments         []Segment           `json:"segments"`
	Folders          []Folder            `json:"folders"`
	Settings         GlobalSettings      `json:"settings"`
	AwsSso           AwsSsoConfiguration `json:"awsSsoConfiguration"`
	Azure            AzureConfiguration  `json:"azureConfiguration"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// SessionByID returns a pointer into the workspace session slice, or nil.
func (w *Workspace) SessionByID(id string) *Session {
	for i := range w.Sessions {
		if w.Sessions[i].ID == id {
			return &w.Sessions[i]
		}
	}
	return nil
}

// ProfileByName returns the profile with the given name, or nil.
func (w *Workspace) ProfileByName(name string) *Profile {
	for i := range w.Profiles {
		if w.Profiles[i].Name == name {
			return &w.Profiles[i]
		}
	}
	return nil
}
