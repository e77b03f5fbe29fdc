// ABOUTME: Entry point for the mcp-foundation server
// ABOUTME: Serves MCP over HTTP and offers health check, token and version helpers

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mcp-foundation/internal/auth"
	"github.com/2389/mcp-foundation/internal/config"
	"github.com/2389/mcp-foundation/internal/server"
)

const banner = `
                                 __                       _       _   _
 _ __ ___   ___ _ __           / _| ___  _   _ _ __   __| | __ _| |_(_) ___  _ __
| '_ ' _ \ / __| '_ \ _____  | |_ / _ \| | | | '_ \ / _' |/ _' | __| |/ _ \| '_ \
| | | | | | (__| |_) |_____| |  _| (_) | |_| | | | | (_| | (_| | |_| | (_) | | | |
|_| |_| |_|\___| .__/        |_|  \___/ \__,_|_| |_|\__,_|\__,_|\__|_|\___/|_| |_|
               |_|
`

const defaultTokenTTL = 24 * time.Hour

// cliArgs holds the flags shared by every subcommand.
type cliArgs struct {
	command    string
	configPath string
	subject    string
	ttl        time.Duration
}

func usage() {
	fmt.Println("Usage: mcp-foundation [command] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                       Start the MCP server (default)")
	fmt.Println("  health                      Check server health")
	fmt.Println("  ready                       Check server readiness")
	fmt.Println("  token --subject NAME        Mint a bearer token signed with secret_key")
	fmt.Println("  version                     Print the version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH               YAML or TOML config file (or MCP_CONFIG)")
	fmt.Println("  --ttl DURATION              Token lifetime (default 24h)")
}

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		usage()
		os.Exit(1)
	}

	switch args.command {
	case "serve":
		err = runServe(args)
	case "health":
		err = runCheck(args, "/health")
	case "ready":
		err = runCheck(args, "/readiness")
	case "token":
		err = runToken(args)
	case "version":
		fmt.Println(config.Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args.command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs supports both "--flag value" and "--flag=value". The first
// non-flag argument is the command.
func parseArgs(argv []string) (cliArgs, error) {
	args := cliArgs{
		configPath: os.Getenv("MCP_CONFIG"),
		ttl:        defaultTokenTTL,
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "-c", "--subject", "-s", "--ttl":
			if !hasValue {
				if i+1 >= len(argv) {
					return args, fmt.Errorf("%s requires a value", name)
				}
				value = argv[i+1]
				i++
			}
		case "--help", "-h":
			args.command = "help"
			continue
		default:
			if strings.HasPrefix(arg, "-") {
				return args, fmt.Errorf("unknown flag: %s", arg)
			}
			if args.command != "" {
				return args, fmt.Errorf("unexpected argument: %s", arg)
			}
			args.command = arg
			continue
		}

		switch name {
		case "--config", "-c":
			args.configPath = value
		case "--subject", "-s":
			args.subject = strings.TrimSpace(value)
		case "--ttl":
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return args, fmt.Errorf("invalid --ttl %q", value)
			}
			args.ttl = d
		}
	}

	if args.command == "" {
		args.command = "serve"
	}
	return args, nil
}

func loadConfig(args cliArgs) (*config.Config, error) {
	cfg, err := config.Load(args.configPath, nil)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServe(args cliArgs) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", config.Version)

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := cfg.EnsureLocalDirs(); err != nil {
		return fmt.Errorf("preparing local directories: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Server:    %s\n", cfg.Server.Name)
	green.Print("    ▶ ")
	fmt.Printf("Mode:      %s\n", cfg.DeploymentMode)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Addr())
	if cfg.Server.GRPCHealthPort > 0 {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCHealthPort)))
	}
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s (%s)\n", cfg.Storage.Path, cfg.Storage.Backend)
	green.Print("    ▶ ")
	fmt.Print("Auth:      ")
	if cfg.Auth.Enabled {
		fmt.Printf("%s or bearer token\n", cfg.Auth.APIKeyHeader)
	} else {
		yellow.Println("disabled")
	}
	if cfg.Debug {
		green.Print("    ▶ ")
		yellow.Println("Debug mode")
	}
	if cfg.DeploymentMode == config.ModeUVX {
		green.Print("    ▶ ")
		gray.Println("Running under uvx")
	}
	if cfg.UseFileWatcher && cfg.IsDevelopment() {
		green.Print("    ▶ ")
		gray.Printf("Watching %s for changes\n", cfg.Storage.Path)
	}
	fmt.Println()

	logger.Info("starting mcp-foundation",
		"server_name", cfg.Server.Name,
		"deployment_mode", cfg.DeploymentMode,
		"addr", cfg.Addr(),
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	stop := srv.Lifecycle().WatchSignals(os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(context.Background()); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func runCheck(args cliArgs, path string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
	defer cancelTimeout()

	url := "http://" + localAddr(cfg) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	fmt.Println(strings.TrimSpace(string(body)))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", strings.TrimPrefix(path, "/"), resp.StatusCode)
	}
	return nil
}

// localAddr dials loopback when the server binds every interface.
func localAddr(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

func runToken(args cliArgs) error {
	if args.subject == "" {
		return errors.New("--subject is required")
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.SecretKey), cfg.Server.Name)
	token, err := verifier.Generate(args.subject, args.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// parseLevel maps configured log levels onto slog levels.
func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LevelDebug:
		return slog.LevelDebug
	case config.LevelWarning:
		return slog.LevelWarn
	case config.LevelError, config.LevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			out:   os.Stdout,
			mu:    &sync.Mutex{},
			level: level,
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// colorHandler provides colorized log output with thread-safe writes.
// Derived handlers share the writer lock.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, prefix, a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		newAttrs = append(newAttrs, a)
	}
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
