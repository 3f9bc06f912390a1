package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudgate-framework/cloudgate/internal/core"
)

// WriteAwsCredentialsFile renders every active AWS session into an
// AWS-CLI-compatible credentials file at path, one profile block per
// session's named profile. The write is atomic: a temp file in the same
// directory is renamed over the target.
func (m *Manager) WriteAwsCredentialsFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace.GetWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		return core.ErrWorkspaceAbsent
	}

	profileNames := make(map[string]string, len(ws.Profiles))
	for _, p := range ws.Profiles {
		profileNames[p.ID] = p.Name
	}

	type block struct {
		profile string
		body    string
	}
	var blocks []block
	for _, sess := range ws.Sessions {
		if sess.Status != core.StatusActive {
			continue
		}
		switch sess.Kind {
		case core.KindAwsSsoRole, core.KindAwsIamUser, core.KindAwsFederated:
		default:
			continue
		}

		creds, err := m.Credentials(sess.ID)
		if err != nil {
			m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("active session without stored credentials, skipped")
			continue
		}

		profile := profileNames[sess.ProfileID]
		if profile == "" {
			profile = core.DefaultProfileName
		}

		var b strings.Builder
		fmt.Fprintf(&b, "[%s]\n", profile)
		fmt.Fprintf(&b, "aws_access_key_id = %s\n", creds.AccessKeyID)
		fmt.Fprintf(&b, "aws_secret_access_key = %s\n", creds.SecretAccessKey)
		if creds.SessionToken != "" {
			fmt.Fprintf(&b, "aws_session_token = %s\n", creds.SessionToken)
		}
		if sess.Region != "" {
			fmt.Fprintf(&b, "region = %s\n", sess.Region)
		}
		blocks = append(blocks, block{profile: profile, body: b.String()})
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].profile < blocks[j].profile })

	var out strings.Builder
	for i, b := range blocks {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(b.body)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(out.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}
