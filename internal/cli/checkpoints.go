package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	pruneKeep  int
	latestFull bool
)

var checkpointsCmd = &cobra.Command{
	Use:     "checkpoints",
	Aliases: []string{"cp"},
	Short:   "Inspect and maintain conversation checkpoints",
}

var checkpointsThreadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List threads with stored checkpoints",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointsThreads,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <thread>",
	Short: "List the checkpoints of a thread, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsList,
}

var checkpointsLatestCmd = &cobra.Command{
	Use:   "latest <thread>",
	Short: "Show the latest checkpoint of a thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsLatest,
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <thread>",
	Short: "Delete every checkpoint of a thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsDelete,
}

var checkpointsPruneCmd = &cobra.Command{
	Use:   "prune <thread>",
	Short: "Keep only the newest checkpoints of a thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsPrune,
}

func init() {
	checkpointsLatestCmd.Flags().BoolVar(&latestFull, "state", false, "print the raw state blob")
	checkpointsPruneCmd.Flags().IntVar(&pruneKeep, "keep", 10, "number of checkpoints to keep (at least 1)")

	checkpointsCmd.AddCommand(checkpointsThreadsCmd, checkpointsListCmd, checkpointsLatestCmd, checkpointsDeleteCmd, checkpointsPruneCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

func runCheckpointsThreads(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	store, err := s.dc.Store(ctx)
	if err != nil {
		return err
	}

	threads, err := store.Threads(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Thread", "Checkpoints", "Latest", "Last Modified"})
	for _, info := range threads {
		t.AppendRow(table.Row{info.ThreadID, info.Count, info.LatestID, info.LastModified.Local().Format(time.RFC3339)})
	}
	t.Render()
	return nil
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	store, err := s.dc.Store(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Checkpoint", "Parent", "Codec", "State Bytes", "Created"})
	for cp, err := range store.List(ctx, args[0]) {
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{cp.CheckpointID, cp.ParentCheckpointID, cp.Codec, len(cp.State), cp.CreatedAt.Local().Format(time.RFC3339)})
	}
	t.Render()
	return nil
}

func runCheckpointsLatest(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	store, err := s.dc.Store(ctx)
	if err != nil {
		return err
	}

	cp, err := store.GetLatest(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if latestFull {
		_, err := out.Write(cp.State)
		return err
	}
	fmt.Fprintf(out, "Thread:     %s\n", cp.ThreadID)
	fmt.Fprintf(out, "Checkpoint: %s\n", cp.CheckpointID)
	fmt.Fprintf(out, "Parent:     %s\n", cp.ParentCheckpointID)
	fmt.Fprintf(out, "Codec:      %s\n", cp.Codec)
	fmt.Fprintf(out, "State:      %d bytes\n", len(cp.State))
	fmt.Fprintf(out, "Created:    %s\n", cp.CreatedAt.Local().Format(time.RFC3339))
	return nil
}

func runCheckpointsDelete(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	store, err := s.dc.Store(ctx)
	if err != nil {
		return err
	}

	if err := store.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", args[0])
	return nil
}

func runCheckpointsPrune(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	store, err := s.dc.Store(ctx)
	if err != nil {
		return err
	}

	removed, err := store.Prune(ctx, args[0], pruneKeep)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d checkpoints from %s\n", removed, args[0])
	return nil
}
