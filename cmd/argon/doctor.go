package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"argon/internal/adapter"
	"argon/internal/config"
	"argon/internal/domain"
	"argon/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the argon setup",
		Long: `Verifies that the configuration, gateway, message store and metrics
listener are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("argon doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'argon init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Gateway reachable
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if v, err := checkGateway(ctx, cfg.Session.Domain()); err != nil {
				printFail("Gateway", fmt.Sprintf("%s: %v", cfg.Session.Host, err))
				failed++
			} else {
				printPass("Gateway", fmt.Sprintf("%s (mirai-api-http %s)", cfg.Session.Host, v))
				passed++
			}

			// 4. Message store writable
			if cfg.Store.Enabled {
				dbPath := config.ExpandPath(cfg.Store.DBPath)
				if err := checkDatabase(ctx, dbPath); err != nil {
					printFail("Message store", err.Error())
					failed++
				} else {
					printPass("Message store", dbPath)
					passed++
				}
			} else {
				printWarn("Message store", "disabled (quotes resolve through the gateway only)")
				warned++
			}

			// 5. Metrics listener
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			// 6. Log file writable
			if cfg.General.LogFile != "" {
				dir := filepath.Dir(config.ExpandPath(cfg.General.LogFile))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running argon.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nargon should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! argon is ready to run.\n")
			}
			return nil
		},
	}
}

// checkGateway asks the gateway for its version over plain HTTP. The about
// endpoint needs no session.
func checkGateway(ctx context.Context, sess domain.Session) (string, error) {
	sess.SingleMode = true
	ad := adapter.NewHTTP(adapter.HTTPConfig{
		Session: sess,
		Retry:   adapter.RetryPolicy{MaxRetries: 1, Base: 200 * time.Millisecond},
		Logger:  logger,
	})
	data, err := ad.Call(ctx, "about", domain.CallGet, nil)
	if err != nil {
		return "", err
	}
	var about struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &about); err != nil {
		return "", fmt.Errorf("decode about: %w", err)
	}
	return about.Version, nil
}

// checkDatabase opens the store, which runs the migrations, and writes one
// pruning pass.
func checkDatabase(ctx context.Context, dbPath string) error {
	st, err := store.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if _, err := st.Prune(ctx, time.Time{}); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
