// Package cli implements the entitymap command-line interface: a cobra
// command tree over one mapping, configured through viper.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/entitymap/internal/metrics"
	"github.com/mesh-intelligence/entitymap/internal/paths"
	"github.com/mesh-intelligence/entitymap/pkg/entitymap"
	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
	metrics   bool
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags     rootFlags
	cfg       types.Config
	logger    *slog.Logger
	collector *metrics.Collector
}

// errUsage marks malformed command input.
var errUsage = errors.New("usage")

// sysError marks failures of the environment rather than of the request:
// unreadable config, unreachable store, failed writes.
type sysError struct{ err error }

func (e *sysError) Error() string { return e.err.Error() }
func (e *sysError) Unwrap() error { return e.err }

// userErrors are the failures caused by the request itself.
var userErrors = []error{
	errUsage,
	types.ErrIntegrity,
	types.ErrUnresolvedReference,
	types.ErrRestoreBlocked,
	types.ErrConflict,
	types.ErrNothingToCommit,
	types.ErrNothingToRollback,
	types.ErrInvalidExpression,
	types.ErrUnknownItemType,
	types.ErrUnknownField,
	types.ErrTypeMismatch,
	types.ErrInvalidID,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrDSNEmpty,
	types.ErrLogLevel,
}

// fail classifies err: request errors pass through, everything else is
// reported as a system error.
func fail(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return &sysError{err: err}
}

// ExitCode maps an error returned by the root command to a process exit
// code.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var sys *sysError
	if errors.As(err, &sys) {
		return exitSysError
	}
	return exitUserError
}

// NewRootCmd creates the top-level "entitymap" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "entitymap",
		Short: "Inspect and edit an entity database through the mapped-item cache",
		Long: "entitymap reads and writes entity classes, entities, parameters, alternatives\n" +
			"and scenarios. Every mutating command is committed with the given message.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.collector == nil {
				return nil
			}
			return fail(a.collector.WriteText(cmd.ErrOrStderr()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.flags.metrics, "metrics", false, "print cache metrics to stderr after the command")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newTypesCmd(a),
		newAddCmd(a),
		newUpdateCmd(a),
		newRemoveCmd(a),
		newPurgeCmd(a),
		newGetCmd(a),
		newFindCmd(a),
		newLogCmd(a),
		newDumpCmd(a),
		newLoadCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "entitymap:", err)
		os.Exit(ExitCode(err))
	}
}

// setup resolves directories, loads config.yaml and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fail(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return fail(err)
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, cfg.GetString(cfgKeyDataDir))
	if err != nil {
		return fail(fmt.Errorf("resolve data dir: %w", err))
	}

	a.cfg = types.Config{
		Backend:  cfg.GetString(cfgKeyBackend),
		DataDir:  dataDir,
		DSN:      cfg.GetString(cfgKeyDSN),
		User:     cfg.GetString(cfgKeyUser),
		LogLevel: cfg.GetString(cfgKeyLogLevel),
	}
	if a.flags.logLevel != "" {
		a.cfg.LogLevel = a.flags.logLevel
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", configDir, err)
	}

	a.logger = newLogger(cmd.ErrOrStderr(), a.cfg.LogLevel)
	if a.flags.metrics {
		a.collector = metrics.NewCollector()
	}
	a.logger.Debug("resolved configuration", "config_dir", configDir, "data_dir", dataDir, "backend", a.cfg.Backend)
	return nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func (a *app) options() []entitymap.Option {
	opts := []entitymap.Option{entitymap.WithLogger(a.logger)}
	if a.collector != nil {
		opts = append(opts, entitymap.WithObserver(a.collector))
	}
	return opts
}

// openMapping opens the configured mapping. The caller closes it.
func (a *app) openMapping() (types.Mapping, error) {
	m, err := entitymap.Open(a.cfg, a.options()...)
	if err != nil {
		return nil, fail(fmt.Errorf("open %s store: %w", a.cfg.Backend, err))
	}
	return m, nil
}
