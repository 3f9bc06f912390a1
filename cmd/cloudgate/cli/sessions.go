package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/session"
)

// RegisterSessionCommands adds session lifecycle commands to the root.
func RegisterSessionCommands(root *cobra.Command) {
	sessCmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "Manage cloud sessions",
	}

	sessCmd.AddCommand(newSessionListCmd())
	sessCmd.AddCommand(newSessionStartCmd())
	sessCmd.AddCommand(newSessionStopCmd())
	sessCmd.AddCommand(newSessionStopAllCmd())
	sessCmd.AddCommand(newSessionRemoveCmd())
	sessCmd.AddCommand(newSessionPinCmd())
	sessCmd.AddCommand(newSessionUnpinCmd())
	sessCmd.AddCommand(newSessionSetProfileCmd())
	sessCmd.AddCommand(newSessionSetFolderCmd())
	sessCmd.AddCommand(newSessionSetSegmentsCmd())
	sessCmd.AddCommand(newSessionExportCmd())
	sessCmd.AddCommand(newSessionCreateIamUserCmd())

	root.AddCommand(sessCmd)
}

func newSessionListCmd() *cobra.Command {
	var (
		kind      string
		status    string
		segmentID string
		folderID  string
		pinned    bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if segmentID != "" {
				if segmentID, err = resolveSegmentID(app, segmentID); err != nil {
					return err
				}
			}
			if folderID != "" {
				if folderID, err = resolveFolderID(app, folderID); err != nil {
					return err
				}
			}
			sessions, err := app.Manager.List(session.Filter{
				Kind:      core.SessionKind(kind),
				Status:    core.SessionStatus(status),
				SegmentID: segmentID,
				FolderID:  folderID,
				Pinned:    pinned,
			})
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATUS\tREGION\tEXPIRES")
			for _, s := range sessions {
				expires := "-"
				if s.Expiration != nil {
					expires = s.Expiration.Format("15:04:05")
				}
				name := s.Name
				if s.Pinned {
					name = "* " + name
				}
				if s.Locked {
					name = name + " (locked)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", shortID(s.ID), name, s.Kind, s.Status, s.Region, expires)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (aws_sso_role, aws_iam_user, aws_federated, azure)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (inactive, pending, active)")
	cmd.Flags().StringVar(&segmentID, "segment", "", "Filter by segment name or ID")
	cmd.Flags().StringVar(&folderID, "folder", "", "Filter by folder name or ID")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "Only pinned sessions")
	return cmd
}

func newSessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <session-id>",
		Short: "Activate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveSessionID(app, args[0])
			if err != nil {
				return err
			}
			if err := app.Manager.Start(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Session %s started.\n", shortID(id))
			return nil
		},
	}
}

func newSessionStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Deactivate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveSessionID(app, args[0])
			if err != nil {
				return err
			}
			if err := app.Manager.Stop(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Session %s stopped.\n", shortID(id))
			return nil
		},
	}
}

func newSessionStopAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Deactivate every active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Manager.StopAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All sessions stopped.")
			return nil
		},
	}
}

func newSessionRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <session-id>",
		Aliases: []string{"rm"},
		Short:   "Stop and delete a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveSessionID(app, args[0])
			if err != nil {
				return err
			}
			if err := app.Manager.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Session %s removed.\n", shortID(id))
			return nil
		},
	}
}

func newSessionPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <session-id>",
		Short: "Pin a session",
		Args:  cobra.ExactArgs(1),
		RunE:  pinRunE(true),
	}
}

func newSessionUnpinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <session-id>",
		Short: "Unpin a session",
		Args:  cobra.ExactArgs(1),
		RunE:  pinRunE(false),
	}
}

func pinRunE(pinned bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		defer app.Close()

		id, err := resolveSessionID(app, args[0])
		if err != nil {
			return err
		}
		return app.Manager.SetPinned(id, pinned)
	}
}

func newSessionSetProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-profile <session-id> <profile-name>",
		Short: "Move a session to a named profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveSessionID(app, args[0])
			if err != nil {
				return err
			}
			profile, err := app.Workspace.EnsureProfile(args[1])
			if err != nil {
				return err
			}
			if err := app.Manager.SetProfile(id, profile.ID); err != nil {
				return err
			}
			fmt.Printf("Session %s moved to profile %q.\n", shortID(id), profile.Name)
			return nil
		},
	}
}

func newSessionSetFolderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-folder <session-id> [folder-name]",
		Short: "Assign a session to a folder; omit the name to clear",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveSessionID(app, args[0])
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := app.Manager.SetFolder(id, ""); err != nil {
					return err
				}
				fmt.Printf("Session %s removed from its folder.\n", shortID(id))
				return nil
			}

			folder, err := app.Workspace.CreateFolder(args[1])
			if err != nil {
				return err
			}
			if err := app.Manager.SetFolder(id, folder.ID); err != nil {
				return err
			}
			fmt.Printf("Session %s moved to folder %q.\n", shortID(id), folder.Name)
			return nil
		},
	}
}

func newSessionSetSegmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-segments <session-id> [segment-name...]",
		Short: "Replace a session's segment memberships; no names clears them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveSessionID(app, args[0])
			if err != nil {
				return err
			}

			segmentIDs := make([]string, 0, len(args)-1)
			for _, name := range args[1:] {
				seg, err := app.Workspace.CreateSegment(name)
				if err != nil {
					return err
				}
				segmentIDs = append(segmentIDs, seg.ID)
			}
			if err := app.Manager.SetSegments(id, segmentIDs); err != nil {
				return err
			}
			fmt.Printf("Session %s assigned to %d segment(s).\n", shortID(id), len(segmentIDs))
			return nil
		},
	}
}

func newSessionExportCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write active AWS sessions to an AWS credentials file",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = filepath.Join(home, ".aws", "credentials")
			}
			if err := app.Manager.WriteAwsCredentialsFile(path); err != nil {
				return err
			}
			fmt.Printf("Credentials written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Target file (default ~/.aws/credentials)")
	return cmd
}

func newSessionCreateIamUserCmd() *cobra.Command {
	var (
		name        string
		region      string
		profileName string
		accessKeyID string
		secretKey   string
	)
	cmd := &cobra.Command{
		Use:   "create-iam-user",
		Short: "Create a session from IAM user access keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || accessKeyID == "" {
				return fmt.Errorf("--name and --access-key-id are required")
			}
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if secretKey == "" {
				secretKey, err = promptPassphrase("Secret access key: ")
				if err != nil {
					return err
				}
			}
			if region == "" {
				region = app.Config.DefaultRegion
			}

			profileID, err := app.Workspace.GetDefaultProfileID()
			if err != nil {
				return err
			}
			if profileName != "" {
				profile, err := app.Workspace.EnsureProfile(profileName)
				if err != nil {
					return err
				}
				profileID = profile.ID
			}

			sess, err := app.IAM.CreateUserSession(cmd.Context(), name, region, profileID, accessKeyID, secretKey)
			if err != nil {
				return err
			}
			fmt.Printf("Session created: %s (%s)\n", sess.Name, shortID(sess.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Session name (required)")
	cmd.Flags().StringVar(&region, "region", "", "AWS region")
	cmd.Flags().StringVar(&profileName, "profile", "", "Named profile (default profile if empty)")
	cmd.Flags().StringVar(&accessKeyID, "access-key-id", "", "IAM access key ID (required)")
	cmd.Flags().StringVar(&secretKey, "secret-access-key", "", "IAM secret key (prompted if omitted)")
	return cmd
}

// resolveSessionID accepts a full session ID or an unambiguous prefix.
func resolveSessionID(app *App, ref string) (string, error) {
	ws, err := app.Workspace.GetWorkspace()
	if err != nil {
		return "", err
	}
	if ws == nil {
		return "", fmt.Errorf("no workspace; run 'cloudgate workspace create' first")
	}

	var match string
	for _, s := range ws.Sessions {
		if s.ID == ref {
			return s.ID, nil
		}
		if len(ref) >= 4 && len(s.ID) >= len(ref) && s.ID[:len(ref)] == ref {
			if match != "" {
				return "", fmt.Errorf("ambiguous session id prefix: %s", ref)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", core.ErrSessionNotFound, ref)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
