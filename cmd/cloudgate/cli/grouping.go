package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// RegisterGroupingCommands adds segment and folder management to the root.
func RegisterGroupingCommands(root *cobra.Command) {
	segCmd := &cobra.Command{
		Use:   "segments",
		Short: "Manage session segments",
	}
	segCmd.AddCommand(newSegmentCreateCmd())
	segCmd.AddCommand(newSegmentListCmd())
	segCmd.AddCommand(newSegmentRemoveCmd())
	root.AddCommand(segCmd)

	folderCmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage session folders",
	}
	folderCmd.AddCommand(newFolderCreateCmd())
	folderCmd.AddCommand(newFolderListCmd())
	folderCmd.AddCommand(newFolderRemoveCmd())
	root.AddCommand(folderCmd)
}

func newSegmentCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a named segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			seg, err := app.Workspace.CreateSegment(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Segment %q created (%s).\n", seg.Name, shortID(seg.ID))
			return nil
		},
	}
}

func newSegmentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			segments, err := app.Workspace.Segments()
			if err != nil {
				return err
			}
			if len(segments) == 0 {
				fmt.Println("No segments.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, seg := range segments {
				fmt.Fprintf(w, "%s\t%s\n", shortID(seg.ID), seg.Name)
			}
			return w.Flush()
		},
	}
}

func newSegmentRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a segment and clear its session memberships",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveSegmentID(app, args[0])
			if err != nil {
				return err
			}
			if err := app.Workspace.RemoveSegment(id); err != nil {
				return err
			}
			fmt.Printf("Segment %q removed.\n", args[0])
			return nil
		},
	}
}

func newFolderCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a named folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			folder, err := app.Workspace.CreateFolder(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Folder %q created (%s).\n", folder.Name, shortID(folder.ID))
			return nil
		},
	}
}

func newFolderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			folders, err := app.Workspace.Folders()
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				fmt.Println("No folders.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, folder := range folders {
				fmt.Fprintf(w, "%s\t%s\n", shortID(folder.ID), folder.Name)
			}
			return w.Flush()
		},
	}
}

func newFolderRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a folder and clear session assignments",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveFolderID(app, args[0])
			if err != nil {
				return err
			}
			if err := app.Workspace.RemoveFolder(id); err != nil {
				return err
			}
			fmt.Printf("Folder %q removed.\n", args[0])
			return nil
		},
	}
}

// resolveSegmentID accepts a segment name or ID.
func resolveSegmentID(app *App, ref string) (string, error) {
	segments, err := app.Workspace.Segments()
	if err != nil {
		return "", err
	}
	for _, seg := range segments {
		if seg.Name == ref || seg.ID == ref {
			return seg.ID, nil
		}
	}
	return "", fmt.Errorf("segment not found: %s", ref)
}

// resolveFolderID accepts a folder name or ID.
func resolveFolderID(app *App, ref string) (string, error) {
	folders, err := app.Workspace.Folders()
	if err != nil {
		return "", err
	}
	for _, folder := range folders {
		if folder.Name == ref || folder.ID == ref {
			return folder.ID, nil
		}
	}
	return "", fmt.Errorf("folder not found: %s", ref)
}
