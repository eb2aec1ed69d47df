package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/harun/deepagent/pkg/workspace"
)

var workspaceRoot string

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Browse the workspace directory agents mirror their files to",
}

var workspaceLsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List workspace files",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWorkspaceLs,
}

var workspaceCatCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a workspace file",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceCat,
}

var workspaceSyncCmd = &cobra.Command{
	Use:   "sync [path...]",
	Short: "Load workspace files and reconcile them, reporting any that cannot be synced",
	RunE:  runWorkspaceSync,
}

func init() {
	workspaceCmd.PersistentFlags().StringVar(&workspaceRoot, "root", "", "workspace directory (default is workspace.root from the config)")

	workspaceCmd.AddCommand(workspaceLsCmd, workspaceCatCmd, workspaceSyncCmd)
	rootCmd.AddCommand(workspaceCmd)
}

func openBackend(s *session) (*workspace.Backend, error) {
	root := workspaceRoot
	if root == "" {
		root = s.cfg.Workspace.Root
	}
	if root == "" {
		return nil, fmt.Errorf("no workspace root: pass --root or set workspace.root")
	}

	opts := []workspace.Option{workspace.WithMaxFileSize(s.cfg.Workspace.MaxFileSize)}
	if len(s.cfg.Workspace.Ignore) > 0 {
		opts = append(opts, workspace.WithIgnore(s.cfg.Workspace.Ignore...))
	}
	b := workspace.New(opts...)
	if err := b.Configure(root); err != nil {
		return nil, err
	}
	return b, nil
}

func runWorkspaceLs(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	b, err := openBackend(s)
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	out := cmd.OutOrStdout()
	for rel, err := range b.ListFiles(ctx, prefix) {
		if err != nil {
			return err
		}
		fmt.Fprintln(out, rel)
	}
	return nil
}

func runWorkspaceCat(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	b, err := openBackend(s)
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	data, err := b.ReadFile(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runWorkspaceSync(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	b, err := openBackend(s)
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	paths := args
	if len(paths) == 0 {
		for rel, err := range b.ListFiles(ctx, "") {
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Path", "Bytes", "Status"})

	loaded := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := b.ReadFile(ctx, p)
		if err != nil {
			t.AppendRow(table.Row{p, "-", err.Error()})
			continue
		}
		loaded = append(loaded, p)
		t.AppendRow(table.Row{p, len(data), "ok"})
	}

	if len(loaded) > 0 {
		warnings, err := b.Reconcile(ctx, loaded...)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			t.AppendRow(table.Row{w.Path, "-", w.Error()})
		}
	}

	t.AppendFooter(table.Row{"Total", len(loaded), fmt.Sprintf("%d of %d synced", len(loaded), len(paths))})
	t.Render()
	return nil
}
