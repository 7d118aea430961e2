package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"happin/internal/bus"
	"happin/internal/classify"
	"happin/internal/config"
	"happin/internal/provider"
	"happin/internal/store"

	"github.com/spf13/cobra"
)

// tally counts check outcomes and prints one line per check.
type tally struct {
	passed, warned, failed int
}

func (t *tally) pass(check, detail string) {
	t.passed++
	printPass(check, detail)
}

func (t *tally) warn(check, detail string) {
	t.warned++
	printWarn(check, detail)
}

func (t *tally) fail(check, detail string) {
	t.failed++
	printFail(check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the happin installation",
		Long: `Verifies that configuration, the message store, classifier providers
and the event broker are reachable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("happin doctor v%s\n\n", version)

			var t tally
			if _, err := os.Stat(cfgPath); err != nil {
				t.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				t.pass("Config file", cfgPath)
			}
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				t.fail("Config validation", err.Error())
				fmt.Printf("\nRun 'happin init' to create a default configuration.\n")
				return fmt.Errorf("config invalid")
			}
			t.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			checkStore(ctx, &t, cfg)
			checkProviders(ctx, &t, cfg)
			checkBroker(&t, cfg.Events.AMQP)

			if err := checkPort(cfg.Server.Addr()); err != nil {
				t.warn("Server port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
			} else {
				t.pass("Server port", cfg.Server.Addr()+" available")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					t.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					t.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", t.passed, t.warned, t.failed)
			if t.failed > 0 {
				return fmt.Errorf("%d check(s) failed", t.failed)
			}
			return nil
		},
	}
}

// checkStore opens the configured store, which also applies migrations.
func checkStore(ctx context.Context, t *tally, cfg *config.Config) {
	st, err := store.Open(ctx, store.Config{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.DBPath,
		DSN:    cfg.Store.DSN,
		Logger: logger,
	})
	if err != nil {
		t.fail("Message store", err.Error())
		return
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		t.fail("Message store", err.Error())
		return
	}
	detail := cfg.Store.DBPath
	if st.Driver() != "sqlite" {
		detail = st.Driver()
	}
	t.pass("Message store", detail)
}

func checkProviders(ctx context.Context, t *tally, cfg *config.Config) {
	if cfg.Classifier.Strategy == classify.StrategyHeuristic {
		t.pass("Classifier", "heuristic strategy, no provider needed")
		return
	}
	f := provider.NewFactory(cfg, logger)
	if _, err := f.Classifier(); err != nil {
		if cfg.Classifier.Strategy == classify.StrategyLLM {
			t.fail("Classifier", err.Error())
		} else {
			t.warn("Classifier", "no provider usable, heuristics will be used")
		}
		return
	}
	if p := f.HealthyProvider(ctx); p != nil {
		t.pass("Classifier", "provider "+p.Name()+" healthy")
	} else {
		t.warn("Classifier", "providers configured but none passed a health check")
	}
}

func checkBroker(t *tally, c config.AMQPConfig) {
	if !c.Enabled {
		return
	}
	pub, err := bus.NewAMQPPublisher(c.URL, c.Exchange, logger)
	if err != nil {
		t.warn("Event broker", err.Error())
		return
	}
	pub.Close()
	t.pass("Event broker", "exchange "+c.Exchange)
}

func checkPort(addr string) error {
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
