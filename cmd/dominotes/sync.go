package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/dominotes/internal/config"
	"github.com/MarcoPoloResearchLab/dominotes/internal/database"
	"github.com/MarcoPoloResearchLab/dominotes/internal/logging"
	"github.com/MarcoPoloResearchLab/dominotes/internal/offline"
	"github.com/MarcoPoloResearchLab/dominotes/internal/remote"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newSyncCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending offline changes against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd.OutOrStdout(), watch)
		},
	}

	defaults := config.NewViper()
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep probing the server and reconcile on every reconnect")
	cmd.Flags().String("base-url", defaults.GetString("client.base_url"), "Server base URL")
	cmd.Flags().String("pin", "", "PIN used to open a session (overrides env)")
	cmd.Flags().String("ledger-path", defaults.GetString("client.ledger_path"), "SQLite path of the pending change ledger")
	cmd.Flags().Duration("probe-interval", defaults.GetDuration("client.probe_interval"), "Connectivity probe interval in watch mode")
	cmd.Flags().String("failed-change-policy", defaults.GetString("sync.failed_change_policy"), "What a pass does with changes that failed to replay (drop, retain)")
	cmd.Flags().String("merge-policy", defaults.GetString("sync.ledger_merge_policy"), "How repeated changes to one entity merge (overwrite, coalesce)")

	bindFlag(cmd, "client.base_url", "base-url")
	bindFlag(cmd, "client.pin", "pin")
	bindFlag(cmd, "client.ledger_path", "ledger-path")
	bindFlag(cmd, "client.probe_interval", "probe-interval")
	bindFlag(cmd, "sync.failed_change_policy", "failed-change-policy")
	bindFlag(cmd, "sync.ledger_merge_policy", "merge-policy")
	return cmd
}

func runSync(ctx context.Context, out io.Writer, watch bool) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenClientSQLite(clientConfig.LedgerPath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	client, err := remote.NewClient(remote.Config{BaseURL: clientConfig.BaseURL, Logger: logger})
	if err != nil {
		return err
	}

	storage, err := offline.NewGormLedgerStorage(db, offline.LedgerStoreName)
	if err != nil {
		return err
	}
	ledger, err := offline.NewLedger(offline.LedgerConfig{
		Storage:     storage,
		MergePolicy: offline.MergePolicy(clientConfig.LedgerMergePolicy),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := ledger.Load(ctx); err != nil {
		return err
	}

	reconciler, err := offline.NewReconciler(offline.ReconcilerConfig{
		Remote:             client,
		Store:              offline.NewStore(),
		Ledger:             ledger,
		FailedChangePolicy: offline.FailedChangePolicy(clientConfig.FailedChangePolicy),
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	monitor, err := offline.NewMonitor(offline.MonitorConfig{
		Probe:    offline.PingProbe{Pinger: client},
		Interval: clientConfig.ProbeInterval,
		Logger:   logger,
		OnReconnect: func(ctx context.Context) {
			if clientConfig.Pin != "" {
				if err := client.Login(ctx, clientConfig.Pin); err != nil {
					logger.Warn("login before reconciliation failed", zap.Error(err))
					return
				}
			}
			report, err := reconciler.Reconcile(ctx)
			if err != nil {
				logger.Warn("reconciliation skipped", zap.Error(err))
				return
			}
			printReport(out, report)
		},
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watch {
		return monitor.Run(signalCtx)
	}
	monitor.Start(signalCtx)
	if !monitor.Online() {
		fmt.Fprintf(out, "server unreachable, %d pending changes kept\n", ledger.Len())
	}
	return nil
}

func printReport(out io.Writer, report offline.Report) {
	refresh := "ok"
	if report.RefreshErr != nil {
		refresh = report.RefreshErr.Error()
	}
	fmt.Fprintf(out, "replayed=%d failed=%d dropped=%d refresh=%s\n", report.Replayed, report.Failed, report.Dropped, refresh)
}
