// Package repository owns the single persisted workspace document. All other
// services read and write workspace state exclusively through it. It carries
// no business logic: load/flush discipline only.
//
// Writes are atomic from the caller's perspective: the document is written to
// a temp file in the same directory and renamed over the target, so a failed
// persist leaves the previously committed document intact. Reads never
// partially materialize a corrupt document; a malformed file fails closed
// with core.ErrCorruptWorkspace.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
)

// DefaultWorkspaceFileName is the on-disk name of the workspace document.
const DefaultWorkspaceFileName = "workspace.json"

// Repository serializes all access to the workspace document.
type Repository struct {
	mu       sync.Mutex
	dir      string
	fileName string
	bus      *events.Bus
	logger   zerolog.Logger

	// loaded is true once the document (or its absence) has been read.
	loaded bool
	ws     *core.Workspace
	// raw retains the full decoded document so fields written by newer
	// versions survive a rewrite.
	raw map[string]json.RawMessage

	// renameFn is swapped in tests to simulate mid-persist failures.
	renameFn func(oldpath, newpath string) error
}

// New creates a repository rooted at dir. The bus may be nil when no
// collaborator listens for workspace-changed signals.
func New(dir string, bus *events.Bus, logger zerolog.Logger) *Repository {
	return &Repository{
		dir:      dir,
		fileName: DefaultWorkspaceFileName,
		bus:      bus,
		logger:   logger,
		renameFn: os.Rename,
	}
}

func (r *Repository) path() string {
	return filepath.Join(r.dir, r.fileName)
}

// WorkspaceFileName returns the current document file name.
func (r *Repository) WorkspaceFileName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fileName
}

// SetWorkspaceFileName changes the document file name and discards the
// in-memory state so the next read hits the new path.
func (r *Repository) SetWorkspaceFileName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileName = name
	r.loaded = false
	r.ws = nil
	r.raw = nil
}

// GetWorkspace returns the committed workspace, or (nil, nil) when no
// document exists yet.
func (r *Repository) GetWorkspace() (*core.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	return r.ws, nil
}

// load reads the document from disk if it has not been read yet.
// Caller holds r.mu.
func (r *Repository) load() error {
	if r.loaded {
		return nil
	}

	data, err := os.ReadFile(r.path())
	if err != nil {
		if os.IsNotExist(err) {
			r.ws = nil
			r.raw = nil
			r.loaded = true
			return nil
		}
		return fmt.Errorf("reading workspace document: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", core.ErrCorruptWorkspace, err)
	}

	var ws core.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return fmt.Errorf("%w: %v", core.ErrCorruptWorkspace, err)
	}
	if ws.ID == "" {
		return fmt.Errorf("%w: missing workspace id", core.ErrCorruptWorkspace)
	}

	r.ws = &ws
	r.raw = raw
	r.loaded = true
	return nil
}

// PersistWorkspace atomically writes the workspace document. On failure the
// previously committed document, in memory and on disk, is untouched.
func (r *Repository) PersistWorkspace(ws *core.Workspace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return err
	}
	return r.persist(ws)
}

// persist writes ws to disk. Caller holds r.mu.
func (r *Repository) persist(ws *core.Workspace) error {
	ws.UpdatedAt = time.Now().UTC()

	known, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("%w: marshaling workspace: %v", core.ErrWorkspaceWrite, err)
	}

	// Overlay known fields on the retained raw document so unknown fields
	// from newer writers are preserved.
	doc := make(map[string]json.RawMessage, len(r.raw)+8)
	for k, v := range r.raw {
		doc[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}
	for k, v := range knownMap {
		doc[k] = v
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}

	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}

	tmp, err := os.CreateTemp(r.dir, r.fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}

	if err := r.renameFn(tmpName, r.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrWorkspaceWrite, err)
	}

	// Commit in-memory state only after the rename succeeded.
	copied := *ws
	r.ws = &copied
	r.raw = doc
	r.loaded = true

	if r.bus != nil {
		r.bus.Publish(events.TopicWorkspaceChanged, r.ws.ID)
	}
	r.logger.Debug().Str("file", r.fileName).Msg("workspace persisted")
	return nil
}

// CreateWorkspace creates and persists a fresh workspace with a default
// profile. It is an error to create over an existing document.
func (r *Repository) CreateWorkspace() (*core.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	if r.ws != nil {
		return nil, fmt.Errorf("workspace already exists: %s", r.ws.ID)
	}

	now := time.Now().UTC()
	profile := core.Profile{ID: uuid.New().String(), Name: core.DefaultProfileName}
	ws := &core.Workspace{
		ID:               uuid.New().String(),
		Version:          core.SchemaVersion,
		DefaultProfileID: profile.ID,
		Profiles:         []core.Profile{profile},
		Sessions:         []core.Session{},
		Segments:         []core.Segment{},
		Folders:          []core.Folder{},
		Settings: core.GlobalSettings{
			DefaultRegion:  "us-east-1",
			BrowserOpening: core.BrowserOpeningExternal,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.raw = nil
	if err := r.persist(ws); err != nil {
		return nil, err
	}
	return r.ws, nil
}

// RemoveWorkspace deletes the document and clears in-memory state.
func (r *Repository) RemoveWorkspace() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing workspace document: %w", err)
	}
	r.ws = nil
	r.raw = nil
	r.loaded = true

	if r.bus != nil {
		r.bus.Publish(events.TopicWorkspaceChanged, "")
	}
	return nil
}

// ReloadWorkspace discards in-memory state and re-reads from disk.
func (r *Repository) ReloadWorkspace() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.ws = nil
	r.raw = nil
	return r.load()
}

// GlobalSettings returns the workspace-wide settings.
func (r *Repository) GlobalSettings() (core.GlobalSettings, error) {
	ws, err := r.require()
	if err != nil {
		return core.GlobalSettings{}, err
	}
	return ws.Settings, nil
}

// SetGlobalSettings replaces the workspace-wide settings and persists.
func (r *Repository) SetGlobalSettings(settings core.GlobalSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return err
	}
	if r.ws == nil {
		return core.ErrWorkspaceAbsent
	}
	updated := *r.ws
	updated.Settings = settings
	return r.persist(&updated)
}

// DefaultProfileID returns the workspace's default profile identifier.
func (r *Repository) DefaultProfileID() (string, error) {
	ws, err := r.require()
	if err != nil {
		return "", err
	}
	return ws.DefaultProfileID, nil
}

func (r *Repository) require() (*core.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	if r.ws == nil {
		return nil, core.ErrWorkspaceAbsent
	}
	return r.ws, nil
}

// IsCorrupt reports whether err is the corrupt-document failure.
func IsCorrupt(err error) bool {
	return errors.Is(err, core.ErrCorruptWorkspace)
}
