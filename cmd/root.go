// Package cmd wires up the CLI flags and runs the daemon.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"ipcd/config"
	ipcerr "ipcd/internal/errors"
	"ipcd/internal/handler"
	"ipcd/internal/logging"
	"ipcd/internal/server"
	"ipcd/internal/transport"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ipcd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --version, --help and --dry-run output.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args and runs the daemon until its failure budget is
// exhausted or ctx is cancelled.  Both are clean exits.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	fs := flag.NewFlagSet("ipcd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configPath string
	fs.StringVar(&configPath, "config", "", "YAML file of key: value options")

	// ── dispatch ─────────────────────────────────────────────────
	fs.IntVar(&cfg.FailureBudget, "failure-budget", cfg.FailureBudget, "Failures tolerated before the daemon stops")
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "How long to wait for running workers on exit (0 waits indefinitely)")

	// ── handler ──────────────────────────────────────────────────
	fs.StringVar(&cfg.Handler, "handler", cfg.Handler, "Per-connection handler: echo, exec, banner or file")
	fs.StringVarP(&cfg.Execute, "exec", "e", "", "Program to run for each connection (implies --handler exec)")
	fs.StringVarP(&cfg.Command, "command", "c", "", "Shell command to run for each connection (implies --handler exec)")
	fs.StringVar(&cfg.Banner, "banner", "", "Greeting written by the banner handler")
	fs.StringVar(&cfg.File, "file", "", "Regular file sent by the file handler")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration, print it and exit")

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "ipcd %s\n", version)
		return nil
	}

	if (cfg.Execute != "" || cfg.Command != "") && !fs.Changed("handler") {
		cfg.Handler = handler.NameExec
	}

	// ── option sources, lowest precedence first ──────────────────
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	if configPath != "" {
		if err := config.LoadFile(cfg, configPath); err != nil {
			return err
		}
	}
	if err := config.ParseTokens(cfg, fs.Args()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	h, err := handler.Build(cfg)
	if err != nil {
		return err
	}

	if dryRun {
		printConfig(cfg)
		return nil
	}

	return serve(ctx, cfg, h)
}

// serve brings the daemon up, runs the dispatch loop and tears down in
// reverse order.
func serve(ctx context.Context, cfg *config.Config, h handler.Handler) error {
	var opts []server.Option
	if cfg.Verbose > 0 || term.IsTerminal(int(os.Stderr.Fd())) {
		opts = append(opts, server.WithConsole(os.Stderr, logging.LevelForVerbosity(cfg.Verbose)))
	}

	sc, err := server.NewServerContext(cfg, opts...)
	if err != nil {
		return err
	}
	defer sc.Close()

	ln, err := transport.Listen(ctx, cfg, sc.Log)
	if err != nil {
		return err
	}
	defer ln.Close()

	d, err := server.NewDispatcher(sc, ln, h)
	if err != nil {
		return err
	}

	err = d.Run(ctx)
	if !d.Wait(cfg.GracePeriod) {
		sc.Log.Warn("exiting with workers still running")
	}

	switch {
	case errors.Is(err, ipcerr.ErrBudgetExhausted), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func printConfig(cfg *config.Config) {
	fmt.Fprintf(stdout, `mq_name                      %s
log_file                     %s
domain                       %s
protocol                     %s
address                      %s
socket_permissions           %s
max_connections              %d
authorised_peer_username     %s
authorised_peer_uid          %s
authorised_peer_gid          %s
authorised_peer_pid          %s
authorised_peer_process_name %s
authorised_peer_cli_args     %s
failure_budget               %d
grace                        %s
handler                      %s
`,
		cfg.MQName, cfg.LogFile, cfg.Domain, cfg.Protocol, cfg.Address(),
		cfg.SocketPermissions, cfg.MaxConnections,
		orAny(cfg.Peer.Username), cfg.Peer.UID, cfg.Peer.GID, cfg.Peer.PID,
		orAny(cfg.Peer.ProcessName), orAny(cfg.Peer.CLIArgs),
		cfg.FailureBudget, graceText(cfg.GracePeriod), cfg.Handler)
}

func graceText(d time.Duration) string {
	if d == 0 {
		return "indefinite"
	}
	return d.String()
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(stdout, `ipcd – authenticated local socket daemon v%s

Accepts connections on a Unix-domain socket (or loopback TCP port), admits
only peers whose uid/gid/pid/process match the configured identity, and
serves each on its own worker.

Usage:
  ipcd [options] [key=value ...]

Keys:
  mq_name, log_file, socket_path, domain, protocol, port, max_connections,
  socket_permissions, authorised_peer_username, authorised_peer_uid,
  authorised_peer_gid, authorised_peer_pid, authorised_peer_process_name,
  authorised_peer_cli_args

  Each key may also be set as %s<KEY> in the environment or in a
  --config YAML file.  Tokens override the file, the file overrides the
  environment.

Options:
`, version, config.EnvPrefix)
	fs.SetOutput(stdout)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	fmt.Fprint(stdout, `
Examples:
  ipcd socket_path=/run/ipcd.sock authorised_peer_uid=1000
  ipcd domain=AF_INET port=4000 -c 'date'
  ipcd --handler banner --banner hello -vv
  ipcd --handler file --file /etc/motd
`)
}
