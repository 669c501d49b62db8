// Command arena runs the pairwise model-comparison arena and its
// maintenance tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrav/go-arena/infrastructure/httpapi"
)

var version = "0.1.0"

const (
	sessionSweepInterval = time.Minute
	sessionMaxIdle       = 30 * time.Minute
	shutdownTimeout      = 15 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "arena",
		Short:         "Pairwise model-comparison arena",
		Long:          "Serve anonymized side-by-side model comparisons, record votes and maintain the leaderboard.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config (default: $ARENA_CONFIG)")

	root.AddCommand(
		newServeCmd(&configPath),
		newLeaderboardCmd(&configPath),
		newCountCmd(&configPath),
		newCleanupCmd(&configPath),
		newRebuildCmd(&configPath),
		newPingCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			sessions, err := newSessions(a)
			if err != nil {
				return err
			}
			go sweepSessions(ctx, sessions, sessionSweepInterval, sessionMaxIdle, a.logger)

			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			srv := &http.Server{
				Addr: addr,
				Handler: httpapi.NewServer(httpapi.Deps{
					Service:    a.service,
					Sessions:   sessions,
					AdminToken: a.cfg.HTTP.AdminToken,
					Gatherer:   a.registry,
					Metrics:    a.metrics,
					Logger:     a.logger,
				}).NewRouter(),
				ReadTimeout:  a.cfg.HTTP.ReadTimeout,
				WriteTimeout: a.cfg.HTTP.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("HTTP server listening",
					zap.String("addr", addr),
					zap.Bool("storage_available", a.service.StorageAvailable()),
					zap.Strings("pool", a.cfg.Pool))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.logger.Info("Shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: http.addr from config)")
	return cmd
}

func newLeaderboardCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the ranked models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				entries, err := a.service.GetLeaderboard(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RANK\tMODEL\tWIN RATE\tBATTLES\tW\tL\tT")
				for _, e := range entries {
					fmt.Fprintf(tw, "%d\t%s\t%.1f%%\t%d\t%d\t%d\t%d\n",
						e.Rank, e.Model, e.WinRate*100, e.TotalBattles, e.Wins, e.Losses, e.Ties)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of entries (default: leaderboard.default_limit)")
	return cmd
}

func newCountCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored votes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				n, err := a.service.GetVoteCount(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stats records with a null, empty or missing model key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				report, err := a.service.CleanupStats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed %d invalid records\n", report.Removed)
				fmt.Fprintf(out, "  null:    %d\n", report.Null)
				fmt.Fprintf(out, "  empty:   %d\n", report.Empty)
				fmt.Fprintf(out, "  missing: %d\n", report.Missing)
				return nil
			})
		},
	}
}

func newRebuildCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute every stats record from the vote log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				report, err := a.service.RebuildStats(ctx)
				if err != nil {
					return err
				}
				printRebuild(cmd.OutOrStdout(), report.Events, report.Skipped, report.Models, report.Duration)
				return nil
			})
		},
	}
}

func newPingCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that storage is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				if err := a.service.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

// withApp runs fn with storage required, closing everything afterwards.
func withApp(ctx context.Context, configPath string, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func printRebuild(w io.Writer, events, skipped, models int, took time.Duration) {
	fmt.Fprintf(w, "Rebuilt %d model records from %d votes in %s\n", models, events, took.Round(time.Millisecond))
	if skipped > 0 {
		fmt.Fprintf(w, "  skipped %d invalid votes\n", skipped)
	}
}
