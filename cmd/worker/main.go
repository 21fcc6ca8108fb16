package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/medication-api/internal/app"
	"github.com/jwalitptl/medication-api/internal/config"
	"github.com/jwalitptl/medication-api/internal/worker"
	"github.com/jwalitptl/medication-api/pkg/auth"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medication-worker",
		Short: "Medication reminder scheduler and missed-dose sweeper",
	}
	rootCmd.PersistentFlags().String("config", "", "path to config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadApp(cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, app.NewLogger(cfg.Logging))
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reminder tick, the missed-dose sweep and the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			healthAddr, _ := cmd.Flags().GetString("health-addr")
			if healthAddr != "" {
				serveHealth(ctx, a, healthAddr)
			}

			a.StartOutbox(ctx)

			sc := a.Config.Scheduler
			w := worker.NewReminderWorker(a.Scheduler(), a.Locker(), worker.ReminderWorkerConfig{
				TickInterval:  sc.TickInterval,
				SweepInterval: sc.SweepInterval,
				LockTTL:       sc.LockTTL,
			}, a.Logger)

			a.Logger.Info("worker started", "tick_interval", sc.TickInterval.String(), "lock", sc.Lock)
			err = w.Start(ctx)
			a.Logger.Info("worker stopped")
			return err
		},
	}
	cmd.Flags().String("health-addr", ":8081", "address for health and metrics endpoints, empty to disable")
	return cmd
}

func serveHealth(ctx context.Context, a *app.App, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error(err, "health check server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// atFlag reads --at as RFC3339, defaulting to the current time.
func atFlag(cmd *cobra.Command) (time.Time, error) {
	at, _ := cmd.Flags().GetString("at")
	if at == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", at, err)
	}
	return t, nil
}

func tickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run a single reminder tick and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := atFlag(cmd)
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Scheduler().RunTick(cmd.Context(), now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d due=%d created=%d skipped=%d failed=%d\n",
				report.Scanned, report.Due, report.Created, report.Skipped, report.Failed)
			return nil
		},
	}
	cmd.Flags().String("at", "", "evaluate as of this RFC3339 time")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue pending doses as missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := atFlag(cmd)
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Scheduler().SweepMissed(cmd.Context(), now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "examined=%d missed=%d\n", report.Examined, report.Missed)
			return nil
		},
	}
	cmd.Flags().String("at", "", "evaluate as of this RFC3339 time")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is required")
			}

			user, _ := cmd.Flags().GetString("user")
			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, ttl).GenerateToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id (uuid)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
