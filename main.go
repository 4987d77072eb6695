// codex-monitor-daemon is a long-lived host process that multiplexes
// authenticated TCP clients onto per-workspace codex agent child processes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/xlab/codex-monitor-daemon/internal/daemonstate"
	"github.com/xlab/codex-monitor-daemon/internal/eventbus"
	"github.com/xlab/codex-monitor-daemon/internal/gitdriver"
	"github.com/xlab/codex-monitor-daemon/internal/logging"
	"github.com/xlab/codex-monitor-daemon/internal/tcpserver"
	"github.com/xlab/codex-monitor-daemon/internal/wsdebug"
)

const defaultListenAddr = "127.0.0.1:4732"

// daemonVersion is stamped at build time via -ldflags; "dev" otherwise.
var daemonVersion = "dev"

type config struct {
	listen         string
	dataDir        string
	token          string
	insecureNoAuth bool
	logLevel       string
	logFormat      string
	debugWSListen  string
}

func usage() string {
	return fmt.Sprintf(`USAGE:
  codex-monitor-daemon [--listen <addr>] [--data-dir <path>] [--token <token> | --insecure-no-auth]

OPTIONS:
  --listen <addr>        Bind address (default: %s)
  --data-dir <path>      Data dir holding workspaces.json/settings.json
  --token <token>        Shared token required by clients
  --insecure-no-auth     Disable auth (dev only)
  --log-level <level>    One of debug, info, warn, error (default: info)
  --log-format <format>  One of text, json (default: auto-detected from stderr)
  --debug-ws-listen <addr>
                         Serve a read-only WebSocket mirror of every bus
                         event at ws://<addr>/events (off by default)
  -h, --help             Show this help
`, defaultListenAddr)
}

func parseArgs(args []string) (config, error) {
	cfg := config{
		listen:  defaultListenAddr,
		dataDir: defaultDataDir(),
		token:   os.Getenv("CODEX_MONITOR_DAEMON_TOKEN"),
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-h", "--help":
			fmt.Print(usage())
			os.Exit(0)
		case "--listen":
			i++
			if i >= len(args) {
				return config{}, fmt.Errorf("--listen requires a value")
			}
			cfg.listen = args[i]
		case "--data-dir":
			i++
			if i >= len(args) {
				return config{}, fmt.Errorf("--data-dir requires a value")
			}
			path := strings.TrimSpace(args[i])
			if path == "" {
				return config{}, fmt.Errorf("--data-dir requires a value")
			}
			cfg.dataDir = path
		case "--token":
			i++
			if i >= len(args) {
				return config{}, fmt.Errorf("--token requires a value")
			}
			token := strings.TrimSpace(args[i])
			if token == "" {
				return config{}, fmt.Errorf("--token requires a value")
			}
			cfg.token = token
		case "--insecure-no-auth":
			cfg.insecureNoAuth = true
			cfg.token = ""
		case "--log-level":
			i++
			if i >= len(args) {
				return config{}, fmt.Errorf("--log-level requires a value")
			}
			cfg.logLevel = args[i]
		case "--log-format":
			i++
			if i >= len(args) {
				return config{}, fmt.Errorf("--log-format requires a value")
			}
			cfg.logFormat = args[i]
		case "--debug-ws-listen":
			i++
			if i >= len(args) {
				return config{}, fmt.Errorf("--debug-ws-listen requires a value")
			}
			cfg.debugWSListen = args[i]
		default:
			return config{}, fmt.Errorf("Unknown argument: %s", arg)
		}
	}

	if cfg.token == "" && !cfg.insecureNoAuth {
		return config{}, fmt.Errorf("Missing --token (or set CODEX_MONITOR_DAEMON_TOKEN). Use --insecure-no-auth for local dev only.")
	}

	return cfg, nil
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "codex-monitor-daemon")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codex-monitor-daemon"
	}
	return filepath.Join(home, ".local", "share", "codex-monitor-daemon")
}

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage())
		os.Exit(2)
	}

	logging.SetupWithConfig(cfg.logLevel, cfg.logFormat, os.Stderr)

	git := gitdriver.New()
	bus := eventbus.New(0)

	daemon, err := daemonstate.Load(cfg.dataDir, git, bus)
	if err != nil {
		slog.Error("failed to load daemon state", "error", err, "data_dir", cfg.dataDir)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", cfg.listen)
	if err != nil {
		slog.Error("failed to bind listener", "error", err, "addr", cfg.listen)
		os.Exit(1)
	}

	slog.Info("codex-monitor-daemon listening",
		"addr", cfg.listen,
		"data_dir", daemon.DataDir(),
		"insecure_no_auth", cfg.insecureNoAuth,
	)

	srv := tcpserver.New(tcpserver.Config{
		Addr:          cfg.listen,
		Token:         cfg.token,
		ClientVersion: "daemon-" + daemonVersion,
	}, daemon, bus)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.debugWSListen != "" {
		debugLn, err := net.Listen("tcp", cfg.debugWSListen)
		if err != nil {
			slog.Error("failed to bind debug WebSocket listener", "error", err, "addr", cfg.debugWSListen)
			os.Exit(1)
		}
		debugSrv := &http.Server{Handler: wsdebug.New(bus).Handler()}
		go func() {
			<-ctx.Done()
			_ = debugSrv.Close()
		}()
		go func() {
			slog.Info("debug WebSocket mirror listening", "addr", cfg.debugWSListen)
			if err := debugSrv.Serve(debugLn); err != nil && ctx.Err() == nil {
				slog.Warn("debug WebSocket server stopped", "error", err)
			}
		}()
	}

	err = srv.Serve(ctx, ln)
	bus.Close()
	if err != nil && ctx.Err() == nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("codex-monitor-daemon stopped")
}
