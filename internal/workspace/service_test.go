package workspace

import (
	"errors"
	"testing"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/logging"
	"github.com/cloudgate-framework/cloudgate/internal/repository"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := repository.New(t.TempDir(), nil, logging.Nop())
	return NewService(repo)
}

func TestWorkspaceExists(t *testing.T) {
	svc := newTestService(t)

	if svc.WorkspaceExists() {
		t.Error("workspace should not exist before create")
	}
	if _, err := svc.CreateWorkspace(); err != nil {
		t.Fatalf("creating workspace: %v", err)
	}
	if !svc.WorkspaceExists() {
		t.Error("workspace should exist after create")
	}
	if err := svc.RemoveWorkspace(); err != nil {
		t.Fatalf("removing workspace: %v", err)
	}
	if svc.WorkspaceExists() {
		t.Error("workspace should not exist after remove")
	}
}

func TestAwsSsoConfigurationRoundTrip(t *testing.T) {
	svc := newTestService(t)

	if err := svc.SetAwsSsoConfiguration(core.AwsSsoConfiguration{}); !errors.Is(err, core.ErrWorkspaceAbsent) {
		t.Errorf("expected ErrWorkspaceAbsent, got %v", err)
	}

	if _, err := svc.CreateWorkspace(); err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	cfg := core.AwsSsoConfiguration{
		Region:         "eu-central-1",
		PortalURL:      "https://acme.awsapps.com/start",
		BrowserOpening: core.BrowserOpeningExternal,
	}
	if err := svc.SetAwsSsoConfiguration(cfg); err != nil {
		t.Fatalf("setting sso configuration: %v", err)
	}

	got, err := svc.GetAwsSsoConfiguration()
	if err != nil {
		t.Fatalf("getting sso configuration: %v", err)
	}
	if got.PortalURL != cfg.PortalURL || got.Region != cfg.Region {
		t.Errorf("sso configuration mismatch: %+v", got)
	}
}

func TestGetDefaultProfileID(t *testing.T) {
	svc := newTestService(t)

	ws, err := svc.CreateWorkspace()
	if err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	id, err := svc.GetDefaultProfileID()
	if err != nil {
		t.Fatalf("default profile id: %v", err)
	}
	if id != ws.DefaultProfileID {
		t.Errorf("got %s, want %s", id, ws.DefaultProfileID)
	}
}

func TestSegmentLifecycle(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateWorkspace(); err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	seg, err := svc.CreateSegment("production")
	if err != nil {
		t.Fatalf("creating segment: %v", err)
	}
	if seg.ID == "" || seg.Name != "production" {
		t.Errorf("unexpected segment: %+v", seg)
	}

	// Same name resolves to the same segment, never a duplicate.
	again, err := svc.CreateSegment("production")
	if err != nil {
		t.Fatalf("re-creating segment: %v", err)
	}
	if again.ID != seg.ID {
		t.Errorf("duplicate segment created: %s vs %s", again.ID, seg.ID)
	}

	segments, err := svc.Segments()
	if err != nil {
		t.Fatalf("listing segments: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}

	if _, err := svc.CreateSegment(""); err == nil {
		t.Error("empty segment name accepted")
	}

	if err := svc.RemoveSegment(seg.ID); err != nil {
		t.Fatalf("removing segment: %v", err)
	}
	segments, _ = svc.Segments()
	if len(segments) != 0 {
		t.Errorf("segment survived remove: %d", len(segments))
	}
	if err := svc.RemoveSegment(seg.ID); err == nil {
		t.Error("removing a missing segment succeeded")
	}
}

func TestRemoveSegmentClearsMemberships(t *testing.T) {
	svc := newTestService(t)
	ws, err := svc.CreateWorkspace()
	if err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	seg, err := svc.CreateSegment("staging")
	if err != nil {
		t.Fatalf("creating segment: %v", err)
	}

	doc, _ := svc.GetWorkspace()
	updated := *doc
	updated.Sessions = []core.Session{{
		ID:         "sess-1",
		Name:       "alpha",
		ProfileID:  ws.DefaultProfileID,
		Kind:       core.KindAwsSsoRole,
		Status:     core.StatusInactive,
		SegmentIDs: []string{seg.ID, "other-segment"},
	}}
	if err := svc.PersistWorkspace(&updated); err != nil {
		t.Fatalf("persisting session: %v", err)
	}

	if err := svc.RemoveSegment(seg.ID); err != nil {
		t.Fatalf("removing segment: %v", err)
	}
	doc, _ = svc.GetWorkspace()
	got := doc.Sessions[0].SegmentIDs
	if len(got) != 1 || got[0] != "other-segment" {
		t.Errorf("membership not cleared: %v", got)
	}
}

func TestFolderLifecycle(t *testing.T) {
	svc := newTestService(t)
	ws, err := svc.CreateWorkspace()
	if err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	folder, err := svc.CreateFolder("work")
	if err != nil {
		t.Fatalf("creating folder: %v", err)
	}
	again, err := svc.CreateFolder("work")
	if err != nil {
		t.Fatalf("re-creating folder: %v", err)
	}
	if again.ID != folder.ID {
		t.Errorf("duplicate folder created: %s vs %s", again.ID, folder.ID)
	}
	folders, err := svc.Folders()
	if err != nil {
		t.Fatalf("listing folders: %v", err)
	}
	if len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(folders))
	}

	// A session assigned to the folder loses the assignment on remove.
	doc, _ := svc.GetWorkspace()
	updated := *doc
	updated.Sessions = []core.Session{{
		ID:        "sess-1",
		Name:      "alpha",
		ProfileID: ws.DefaultProfileID,
		Kind:      core.KindAwsSsoRole,
		Status:    core.StatusInactive,
		FolderID:  folder.ID,
	}}
	if err := svc.PersistWorkspace(&updated); err != nil {
		t.Fatalf("persisting session: %v", err)
	}

	if err := svc.RemoveFolder(folder.ID); err != nil {
		t.Fatalf("removing folder: %v", err)
	}
	doc, _ = svc.GetWorkspace()
	if doc.Sessions[0].FolderID != "" {
		t.Errorf("folder assignment survived remove: %s", doc.Sessions[0].FolderID)
	}
	if err := svc.RemoveFolder(folder.ID); err == nil {
		t.Error("removing a missing folder succeeded")
	}
}

func TestWorkspaceFileName(t *testing.T) {
	svc := newTestService(t)

	if svc.GetWorkspaceFileName() != repository.DefaultWorkspaceFileName {
		t.Errorf("unexpected default file name: %s", svc.GetWorkspaceFileName())
	}
	svc.SetWorkspaceFileName("alternate.json")
	if svc.GetWorkspaceFileName() != "alternate.json" {
		t.Errorf("file name not applied: %s", svc.GetWorkspaceFileName())
	}
}
