// Package workspace provides workspace-level operations over the repository:
// lifecycle, global settings, and default-profile resolution. Thin
// orchestration only; failures propagate unchanged from the repository.
package workspace

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/repository"
)

// Service wraps the repository with workspace-level operations.
type Service struct {
	repo *repository.Repository
}

// NewService creates a workspace service over the given repository.
func NewService(repo *repository.Repository) *Service {
	return &Service{repo: repo}
}

// GetWorkspace returns the committed workspace, or (nil, nil) when absent.
func (s *Service) GetWorkspace() (*core.Workspace, error) {
	return s.repo.GetWorkspace()
}

// PersistWorkspace writes the workspace document atomically.
func (s *Service) PersistWorkspace(ws *core.Workspace) error {
	return s.repo.PersistWorkspace(ws)
}

// WorkspaceExists reports whether a workspace document is present and
// readable.
func (s *Service) WorkspaceExists() bool {
	ws, err := s.repo.GetWorkspace()
	return err == nil && ws != nil
}

// GetDefaultProfileID returns the default profile identifier.
func (s *Service) GetDefaultProfileID() (string, error) {
	return s.repo.DefaultProfileID()
}

// CreateWorkspace creates the workspace document on first run.
func (s *Service) CreateWorkspace() (*core.Workspace, error) {
	return s.repo.CreateWorkspace()
}

// RemoveWorkspace deletes the workspace document.
func (s *Service) RemoveWorkspace() error {
	return s.repo.RemoveWorkspace()
}

// ReloadWorkspace discards in-memory state and re-reads from disk.
func (s *Service) ReloadWorkspace() error {
	return s.repo.ReloadWorkspace()
}

// SetWorkspaceFileName switches the document file name.
func (s *Service) SetWorkspaceFileName(name string) {
	s.repo.SetWorkspaceFileName(name)
}

// GetWorkspaceFileName returns the document file name.
func (s *Service) GetWorkspaceFileName() string {
	return s.repo.WorkspaceFileName()
}

// ExtractGlobalSettings returns the workspace-wide settings.
func (s *Service) ExtractGlobalSettings() (core.GlobalSettings, error) {
	return s.repo.GlobalSettings()
}

// ApplyGlobalSettings replaces the workspace-wide settings.
func (s *Service) ApplyGlobalSettings(settings core.GlobalSettings) error {
	return s.repo.SetGlobalSettings(settings)
}

// Profiles returns the named profiles.
func (s *Service) Profiles() ([]core.Profile, error) {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	return append([]core.Profile{}, ws.Profiles...), nil
}

// EnsureProfile returns the profile with the given name, creating it if it
// does not exist yet.
func (s *Service) EnsureProfile(name string) (*core.Profile, error) {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	if p := ws.ProfileByName(name); p != nil {
		copied := *p
		return &copied, nil
	}

	profile := core.Profile{ID: uuid.New().String(), Name: name}
	updated := *ws
	updated.Profiles = append(append([]core.Profile{}, ws.Profiles...), profile)
	if err := s.repo.PersistWorkspace(&updated); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Segments returns the named segments.
func (s *Service) Segments() ([]core.Segment, error) {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	return append([]core.Segment{}, ws.Segments...), nil
}

// CreateSegment adds a named segment, returning the existing one when the
// name is already taken.
func (s *Service) CreateSegment(name string) (*core.Segment, error) {
	if name == "" {
		return nil, fmt.Errorf("segment name is required")
	}
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	for i := range ws.Segments {
		if ws.Segments[i].Name == name {
			copied := ws.Segments[i]
			return &copied, nil
		}
	}

	segment := core.Segment{ID: uuid.New().String(), Name: name}
	updated := *ws
	updated.Segments = append(append([]core.Segment{}, ws.Segments...), segment)
	if err := s.repo.PersistWorkspace(&updated); err != nil {
		return nil, err
	}
	return &segment, nil
}

// RemoveSegment deletes a segment and clears its session memberships.
func (s *Service) RemoveSegment(id string) error {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}

	segments := make([]core.Segment, 0, len(ws.Segments))
	for _, seg := range ws.Segments {
		if seg.ID != id {
			segments = append(segments, seg)
		}
	}
	if len(segments) == len(ws.Segments) {
		return fmt.Errorf("segment not found: %s", id)
	}

	sessions := append([]core.Session{}, ws.Sessions...)
	for i := range sessions {
		kept := make([]string, 0, len(sessions[i].SegmentIDs))
		for _, sid := range sessions[i].SegmentIDs {
			if sid != id {
				kept = append(kept, sid)
			}
		}
		sessions[i].SegmentIDs = kept
	}

	updated := *ws
	updated.Segments = segments
	updated.Sessions = sessions
	return s.repo.PersistWorkspace(&updated)
}

// Folders returns the named folders.
func (s *Service) Folders() ([]core.Folder, error) {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	return append([]core.Folder{}, ws.Folders...), nil
}

// CreateFolder adds a named folder, returning the existing one when the
// name is already taken.
func (s *Service) CreateFolder(name string) (*core.Folder, error) {
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	for i := range ws.Folders {
		if ws.Folders[i].Name == name {
			copied := ws.Folders[i]
			return &copied, nil
		}
	}

	folder := core.Folder{ID: uuid.New().String(), Name: name}
	updated := *ws
	updated.Folders = append(append([]core.Folder{}, ws.Folders...), folder)
	if err := s.repo.PersistWorkspace(&updated); err != nil {
		return nil, err
	}
	return &folder, nil
}

// RemoveFolder deletes a folder and clears the assignment on its sessions.
func (s *Service) RemoveFolder(id string) error {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}

	folders := make([]core.Folder, 0, len(ws.Folders))
	for _, f := range ws.Folders {
		if f.ID != id {
			folders = append(folders, f)
		}
	}
	if len(folders) == len(ws.Folders) {
		return fmt.Errorf("folder not found: %s", id)
	}

	sessions := append([]core.Session{}, ws.Sessions...)
	for i := range sessions {
		if sessions[i].FolderID == id {
			sessions[i].FolderID = ""
		}
	}

	updated := *ws
	updated.Folders = folders
	updated.Sessions = sessions
	return s.repo.PersistWorkspace(&updated)
}

// GetAwsSsoConfiguration returns the SSO portal coordinates.
func (s *Service) GetAwsSsoConfiguration() (core.AwsSsoConfiguration, error) {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return core.AwsSsoConfiguration{}, err
	}
	if ws == nil {
		return core.AwsSsoConfiguration{}, core.ErrWorkspaceAbsent
	}
	return ws.AwsSso, nil
}

// SetAwsSsoConfiguration stores the SSO portal coordinates and persists.
func (s *Service) SetAwsSsoConfiguration(cfg core.AwsSsoConfiguration) error {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}
	updated := *ws
	updated.AwsSso = cfg
	return s.repo.PersistWorkspace(&updated)
}

// GetAzureConfiguration returns the Azure tenant coordinates.
func (s *Service) GetAzureConfiguration() (core.AzureConfiguration, error) {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return core.AzureConfiguration{}, err
	}
	if ws == nil {
		return core.AzureConfiguration{}, core.ErrWorkspaceAbsent
	}
	return ws.Azure, nil
}

// SetAzureConfiguration stores the Azure tenant coordinates and persists.
func (s *Service) SetAzureConfiguration(cfg core.AzureConfiguration) error {
	ws, err := s.repo.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}
	updated := *ws
	updated.Azure = cfg
	return s.repo.PersistWorkspace(&updated)
}
