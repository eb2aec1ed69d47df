package cli

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/harun/deepagent/pkg/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect model resolution",
}

var modelsResolveCmd = &cobra.Command{
	Use:   "resolve <model>...",
	Short: "Show which provider and credential a model id resolves to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runModelsResolve,
}

func init() {
	modelsCmd.AddCommand(modelsResolveCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModelsResolve(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	registry := s.dc.Registry()

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Model", "Provider", "Name", "Credential"})

	var failed int
	for _, id := range args {
		tag, name, err := registry.ResolveID(id)
		if err != nil {
			failed++
			t.AppendRow(table.Row{id, "-", "-", err.Error()})
			continue
		}

		credential := "ok"
		if _, err := registry.Resolve(id); err != nil {
			if !errors.Is(err, provider.ErrCredentialMissing) {
				return err
			}
			credential = "missing"
		}
		t.AppendRow(table.Row{id, tag, name, credential})
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d models could not be resolved", failed, len(args))
	}
	return nil
}
