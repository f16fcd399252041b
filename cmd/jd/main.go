// Command jd is the JuniorDebug command-line client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/app"
	"github.com/and161185/juniordebug/internal/config"
	"github.com/and161185/juniordebug/internal/logging"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// runner carries the global flags and the lazily opened client.
type runner struct {
	configPath string
	logLevel   string
	timeout    time.Duration
	asJSON     bool

	cfg    *config.Config
	log    *zap.Logger
	app    *app.App
	cancel context.CancelFunc
}

// open loads configuration and starts the client once per invocation.
func (r *runner) open(ctx context.Context, opts app.Options) (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if r.logLevel != "" {
		level = r.logLevel
	}
	log, err := logging.New(level, false)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, log, opts)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	r.cfg, r.log, r.app = cfg, log, a
	return a, nil
}

func (r *runner) close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.app != nil {
		r.app.Close()
		r.app = nil
	}
	if r.log != nil {
		_ = r.log.Sync()
	}
}

func newRootCmd(r *runner) *cobra.Command {
	root := &cobra.Command{
		Use:           "jd",
		Short:         "Submit code for AI analysis and manage your account",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if r.timeout > 0 && cmd.Name() != "watch" {
				ctx, cancel := context.WithTimeout(cmd.Context(), r.timeout)
				r.cancel = cancel
				cmd.SetContext(ctx)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&r.configPath, "config", "", "config file (default: $JD_CONFIG_DIR/config.yaml)")
	root.PersistentFlags().StringVar(&r.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().DurationVar(&r.timeout, "timeout", 2*time.Minute, "overall timeout per command")
	root.PersistentFlags().BoolVar(&r.asJSON, "json", false, "print JSON")

	root.AddCommand(
		versionCmd(),
		signUpCmd(r),
		signInCmd(r),
		signOutCmd(r),
		whoamiCmd(r),
		callbackCmd(r),
		keyCmd(r),
		modelsCmd(r),
		analyzeCmd(r),
		statusCmd(r),
		watchCmd(r),
	)
	return root
}

// run executes one command line and releases the client afterwards.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	r := &runner{}
	defer r.close()

	root := newRootCmd(r)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

// main runs the command line until it finishes or a signal arrives.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "jd:", err)
		os.Exit(1)
	}
}

// ---- utils ----

func readAll(cmd *cobra.Command, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
