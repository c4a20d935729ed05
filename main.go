package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"persona-recall/config"
	"persona-recall/database"
	"persona-recall/embedding"
	"persona-recall/graph"
	"persona-recall/memory"
	"persona-recall/scheduler"
	"persona-recall/web"
)

// app bundles everything the commands need after bootstrap.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  database.Store
	engine *memory.Engine
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	config.Cleanup()
}

// bootstrap wires config, logging, the store, and the engine in the order
// the rest of the process depends on them.
func bootstrap(ctx context.Context) (*app, error) {
	tempLogger, err := config.InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg := config.Load(tempLogger)

	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to re-initialize logger with configured level: %w", err)
	}

	store, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	embedder, err := embedding.New(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	g := graph.New(store.DB(), store.Dialect(), logger, true)
	engine, err := memory.NewEngine(store, embedder, g, cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize memory engine: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store, engine: engine}, nil
}

func main() {
	root := &cobra.Command{
		Use:           "persona-recall",
		Short:         "Memory retrieval and deduplication engine for persistent personas",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), deepScanCmd(), backfillCmd(), checkCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and maintenance scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.New(a.logger)
			if a.cfg.SchedulerEnabled {
				if err := registerMaintenanceJobs(sched, a); err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
			}

			addr := fmt.Sprintf(":%d", a.cfg.WebPort)
			a.logger.Info("Starting persona-recall", zap.String("address", addr))
			server := web.NewServer(a.engine, a.logger, a.cfg)
			return server.Start(ctx, addr)
		},
	}
}

// registerMaintenanceJobs wires the nightly deep scan and hourly embedding
// backfill. Both iterate every known profile; per-profile failures are
// logged and do not stop the sweep.
func registerMaintenanceJobs(sched *scheduler.Scheduler, a *app) error {
	if err := sched.Add("deep-scan", a.cfg.DeepScanCron, func(ctx context.Context) error {
		return forEachProfile(ctx, a, "deep scan", func(ctx context.Context, profileID string) error {
			_, err := a.engine.DeepScan(ctx, memory.DeepScanRequest{
				ProfileID: profileID,
				Depth:     a.cfg.DeepScanDepth,
				Threshold: a.cfg.DeepScanThreshold,
				Apply:     true,
			})
			return err
		})
	}); err != nil {
		return err
	}
	return sched.Add("backfill", a.cfg.BackfillCron, func(ctx context.Context) error {
		return forEachProfile(ctx, a, "backfill", func(ctx context.Context, profileID string) error {
			_, err := a.engine.BackfillEmbeddings(ctx, profileID, a.cfg.BackfillBatchSize)
			return err
		})
	})
}

func forEachProfile(ctx context.Context, a *app, jobName string, run func(ctx context.Context, profileID string) error) error {
	profiles, err := a.store.ListProfileIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	for _, profileID := range profiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := run(ctx, profileID); err != nil {
			a.logger.Warn("Scheduled job failed for profile",
				zap.String("job", jobName),
				zap.String("profile_id", profileID),
				zap.Error(err))
		}
	}
	return nil
}

func deepScanCmd() *cobra.Command {
	var (
		profileID string
		depth     int
		threshold float64
		apply     bool
		textMode  bool
	)
	cmd := &cobra.Command{
		Use:   "deepscan",
		Short: "Scan a profile's fact corpus for near-duplicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.engine.DeepScan(ctx, memory.DeepScanRequest{
				ProfileID: profileID,
				Depth:     depth,
				Threshold: threshold,
				Apply:     apply,
				TextMode:  textMode,
				Progress: func(scanned, total int) {
					fmt.Fprintf(cmd.OutOrStdout(), "scanned %d/%d\n", scanned, total)
				},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"groups":           len(report.Groups),
				"total_duplicates": report.TotalDuplicates,
				"scanned":          report.Scanned,
				"merged":           report.Merged,
				"elapsed":          report.Elapsed.String(),
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to scan (required)")
	cmd.Flags().IntVar(&depth, "depth", 0, "number of facts to scan, 0 for all")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "similarity threshold, 0 for configured default")
	cmd.Flags().BoolVar(&apply, "apply", false, "merge discovered duplicate groups")
	cmd.Flags().BoolVar(&textMode, "text", false, "compare by text similarity instead of vectors")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func backfillCmd() *cobra.Command {
	var (
		profileID string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed facts stored without a vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			updated, err := a.engine.BackfillEmbeddings(ctx, profileID, batchSize)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"updated": updated})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to backfill (required)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "facts per embedding batch, 0 for configured default")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func checkCmd() *cobra.Command {
	var (
		profileID string
		content   string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Screen content against a profile's existing facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.engine.CheckDuplicate(ctx, profileID, content)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id (required)")
	cmd.Flags().StringVar(&content, "content", "", "fact content to screen (required)")
	cmd.MarkFlagRequired("profile")
	cmd.MarkFlagRequired("content")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fact counts per profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			profiles, err := a.store.ListProfileIDs(ctx)
			if err != nil {
				return err
			}
			counts := make(map[string]int, len(profiles))
			for _, profileID := range profiles {
				count, err := a.store.CountFacts(ctx, profileID)
				if err != nil {
					a.logger.Warn("Failed to count facts",
						zap.String("profile_id", profileID), zap.Error(err))
					continue
				}
				counts[profileID] = count
			}
			return printJSON(cmd, map[string]any{
				"driver":   a.store.Dialect(),
				"profiles": counts,
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
