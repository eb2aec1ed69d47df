package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harun/deepagent/internal/config"
	"github.com/harun/deepagent/internal/logger"
	"github.com/harun/deepagent/internal/tracing"
	"github.com/harun/deepagent/pkg/deepagent"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deepagent",
	Short: "deepagent - checkpoints and synced workspaces for deep agents",
	Long: `deepagent inspects the durable state behind deep-agent runtimes:
conversation checkpoints stored in SQLite and the workspace directory
an agent's virtual files are mirrored to.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/deepagent/deepagent.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// session is the per-command environment every subcommand builds on
type session struct {
	cfg *config.Config
	dc  *deepagent.Context
	log *logger.Logger
}

func openSession() (*session, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := tracing.InitOpenTelemetry(tracing.DefaultServiceName); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry, continuing without tracing")
	}

	return &session{
		cfg: cfg,
		dc:  deepagent.New(cfg),
		log: lg,
	}, nil
}

func (s *session) Close() {
	_ = s.dc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shutdown OpenTelemetry")
	}

	_ = s.log.Close()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
