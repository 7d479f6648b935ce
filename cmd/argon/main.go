package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"argon/internal/adapter"
	"argon/internal/app"
	"argon/internal/broadcast"
	"argon/internal/config"
	"argon/internal/dispatch"
	"argon/internal/domain"
	"argon/internal/message"
	"argon/internal/metrics"
	"argon/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "argon",
		Short: "argon: client for a mirai-api-http gateway",
		Long:  "argon connects to a mirai-api-http gateway, dispatches its events and sends message chains.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.argon/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(listenCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("argon", version)
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config and replaces the startup logger with one built
// from the general section. The returned func closes the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(config.ExpandPath(cfg.General.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return cfg, closeFn, nil
}

func newAdapter(cfg *config.Config) domain.Adapter {
	sess := cfg.Session.Domain()
	if cfg.Session.Transport == "http" {
		return adapter.NewHTTP(adapter.HTTPConfig{
			Session:      sess,
			Client:       adapter.SharedHTTPClient(cfg.Session.CallTimeout()),
			PollInterval: time.Duration(cfg.Session.PollIntervalMs) * time.Millisecond,
			Logger:       logger,
		})
	}
	return adapter.NewWebSocket(adapter.WSConfig{
		Session:              sess,
		CallTimeout:          cfg.Session.CallTimeout(),
		ReconnectInterval:    time.Duration(cfg.Session.ReconnectSeconds) * time.Second,
		MaxReconnectInterval: time.Duration(cfg.Session.MaxReconnectSeconds) * time.Second,
		Logger:               logger,
	})
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	st, err := store.Open(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return nil, fmt.Errorf("message store: %w", err)
	}
	return st, nil
}

// newApp wires the adapter, store and broadcast from cfg.
func newApp(cfg *config.Config, st *store.SQLiteStore) (*app.App, error) {
	bc := broadcast.New(broadcast.Config{
		Concurrency: cfg.General.Concurrency,
		MaxHistory:  cfg.General.MaxHistory,
		Logger:      logger,
	})
	return app.New(app.Config{
		Adapter:       newAdapter(cfg),
		Broadcast:     bc,
		Store:         st,
		SendBurst:     cfg.Send.Burst,
		SendPerMinute: cfg.Send.PerMinute,
		LogEvents:     cfg.Store.LogEvents,
		Logger:        logger,
	})
}

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect to the gateway and log incoming events",
		Long:  "Connects with the configured transport, stores message events and logs every event. Press Ctrl+C to stop.",
		RunE:  runListen,
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		pruneStore(ctx, st, cfg.Store.RetentionDays)
	}

	a, err := newApp(cfg, st)
	if err != nil {
		return err
	}
	_, err = a.On(broadcast.Wildcard, func(ev domain.Event) {
		if ce, ok := ev.(dispatch.ChainEvent); ok {
			logger.Info("message", "type", ev.EventType(), "text", ce.MessageChain().Display())
			return
		}
		logger.Debug("event", "type", ev.EventType())
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := startMetrics(cfg.Metrics)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("listening", "host", cfg.Session.Host, "transport", cfg.Session.Transport)
	if err := a.Lifecycle(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func startMetrics(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, metrics.Default.Handler())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	logger.Info("metrics enabled", "addr", cfg.Listen, "endpoint", cfg.Endpoint)
	return srv
}

func pruneStore(ctx context.Context, st *store.SQLiteStore, days int) {
	if days <= 0 {
		return
	}
	n, err := st.Prune(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		logger.Warn("prune store failed", "err", err)
		return
	}
	if n > 0 {
		logger.Info("pruned store", "rows", n, "retentionDays", days)
	}
}

// buildChain returns the chain from a YAML template file when one is given,
// otherwise a plain-text chain of args.
func buildChain(templatePath string, args []string) (*message.Chain, error) {
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, err
		}
		return message.LoadTemplate(data)
	}
	if len(args) == 0 {
		return nil, errors.New("nothing to send: pass text or --template")
	}
	return message.NewChain(strings.Join(args, " "))
}

func sendCmd() *cobra.Command {
	var (
		templatePath string
		group        int64
		quote        int64
		wait         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [friend|group|temp] [target] [text...]",
		Short: "Send a message chain",
		Long: `Sends plain text, or a chain loaded from a YAML template with --template.
Temp messages need the member's group with --group.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			target, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid target %q: %w", args[1], err)
			}
			var to any
			switch kind {
			case "friend":
				to = domain.Friend{ID: target}
			case "group":
				to = domain.Group{ID: target}
			case "temp":
				if group == 0 {
					return errors.New("temp messages need --group")
				}
				to = domain.Member{ID: target, Group: domain.Group{ID: group}}
			default:
				return fmt.Errorf("unknown target kind %q (friend, group or temp)", kind)
			}
			chain, err := buildChain(templatePath, args[2:])
			if err != nil {
				return err
			}

			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			a, err := newApp(cfg, st)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Launch(ctx); err != nil {
				return err
			}
			defer a.Stop()
			if err := waitReady(ctx, a.Adapter(), wait); err != nil {
				return err
			}

			var opts []app.SendOption
			if quote != 0 {
				opts = append(opts, app.Quote(quote))
			}
			id, err := a.SendMessage(ctx, to, chain, opts...)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&templatePath, "template", "t", "", "YAML chain template")
	cmd.Flags().Int64Var(&group, "group", 0, "group of the member for temp messages")
	cmd.Flags().Int64Var(&quote, "quote", 0, "message id to reply to")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the gateway session")
	return cmd
}

// waitReady blocks until adapters that report their connection state are
// connected.
func waitReady(ctx context.Context, ad domain.Adapter, timeout time.Duration) error {
	c, ok := ad.(interface{ Connected() bool })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !c.Connected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render [template.yaml]",
		Short: "Show the display text and wire form of a chain template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := buildChain(args[0], nil)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(chain, "", "  ")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, chain.Display())
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [subject]",
		Short: "List stored messages of a friend or group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid subject %q: %w", args[0], err)
			}
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if !cfg.Store.Enabled {
				return errors.New("message store is disabled (store.enabled)")
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := st.Recent(cmd.Context(), subject, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				fmt.Fprintf(out, "%s %-3s %-10d %-12d %s\n",
					m.CreatedAt.Local().Format(time.DateTime), m.Direction, m.ID, m.Sender, m.Chain.Display())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. session.host)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. session.transport http)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
