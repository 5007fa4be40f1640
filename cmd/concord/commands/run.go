package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/concord-dev/concord"
	"github.com/concord-dev/concord/internal/observability"
	"github.com/concord-dev/concord/pkg/config"
	obs "github.com/concord-dev/concord/pkg/observability"
)

var (
	configFile string
	jsonOutput bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run one collaboration over the configured participants",
	Long: `Run loads the participant group from the configuration file, routes the
task to the best-matching participant, and drives the round loop until the
protocol completes, the group converges, or the round limit is reached.`,
	Args: cobra.ExactArgs(1),
	RunE: runCollaboration,
}

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "concord.yaml", "configuration file")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runCollaboration(cmd *cobra.Command, args []string) error {
	task := args[0]

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := observability.InitFromEnv(); err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		if err := observability.Shutdown(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	mgr, err := concord.NewManager(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Memory().Close(); err != nil {
			log.Printf("shared memory close: %v", err)
		}
	}()

	var obsServer *obs.Server
	if cfg.Runtime.EnableMetrics {
		obs.InitMetrics()
		checker := obs.NewHealthChecker()
		checker.RegisterCheck("shared_memory", func(ctx context.Context) error {
			_, err := mgr.Memory().Stats(ctx)
			return err
		})
		obsServer = obs.NewServer(cfg.Runtime.MetricsPort, checker)
		go func() {
			log.Printf("metrics server listening on :%d", cfg.Runtime.MetricsPort)
			if err := obsServer.Start(); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := mgr.Collaborate(ctx, task)

	if obsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := obsServer.Shutdown(shutdownCtx); serr != nil {
			log.Printf("metrics server shutdown: %v", serr)
		}
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("state:    %s after %d round(s) in %s\n", result.TerminalState, len(result.Rounds), result.Duration.Round(time.Millisecond))
	fmt.Printf("assignee: %s", result.AssignedTo)
	if result.FallbackRouted {
		fmt.Print(" (fallback)")
	}
	fmt.Println()
	if result.FinalAnswer != nil {
		fmt.Printf("answer:   %v\n", result.FinalAnswer)
	}
	for id, reason := range result.Failures {
		fmt.Printf("failure:  %s: %s\n", id, reason)
	}
	return nil
}
