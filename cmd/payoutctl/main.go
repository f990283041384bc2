package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/kursadbilgin/payout-engine/internal/config"
	"github.com/kursadbilgin/payout-engine/internal/disbursement"
	"github.com/kursadbilgin/payout-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/payout-engine/internal/infra/redis"
	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/kursadbilgin/payout-engine/internal/lock"
	"github.com/kursadbilgin/payout-engine/internal/observability"
	"github.com/kursadbilgin/payout-engine/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exampleUsage = strings.TrimSpace(`
  payoutctl address
  payoutctl run --batch-id 6f1c2d0e-7c43-4c55-9a3e-0d5b8c1f2a9b
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "payoutctl",
		Short:         "Operate payout batches from the command line",
		Long:          "payoutctl runs stored payout batches in-process and inspects the configured funding account.\nConfiguration is read from the same environment variables as the payout worker.",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newAddressCommand(), newRunCommand())
	return root
}

func newAddressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the funding address derived from the configured secret material",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireSigner(); err != nil {
				return err
			}

			identity, err := keys.Derive(cfg.KeyMaterial())
			if err != nil {
				return fmt.Errorf("derive funding identity: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), identity.Address)
			return err
		},
	}
}

func newRunCommand() *cobra.Command {
	var (
		batchID string
		noLock  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one payout batch to completion in this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireSigner(); err != nil {
				return err
			}
			if strings.TrimSpace(cfg.DatabaseDSN) == "" {
				return errors.New("missing required config: DATABASE_DSN")
			}

			logger, err := observability.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return runBatch(cmd.Context(), cfg, logger, strings.TrimSpace(batchID), !noLock, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&batchID, "batch-id", "", "id of the batch to run")
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the funding account run lock even when REDIS_URL is set")
	_ = cmd.MarkFlagRequired("batch-id")

	return cmd
}

func runBatch(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	batchID string,
	useLock bool,
	out io.Writer,
) error {
	settings, err := cfg.Settings()
	if err != nil {
		return fmt.Errorf("invalid run settings: %w", err)
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	engine, err := disbursement.NewEngine(
		repository.NewGormBatchRepo(db),
		ledger.NewRPCDialer(cfg.LedgerOptions(), logger),
		cfg.KeyMaterial(),
		settings,
		logger,
	)
	if err != nil {
		return err
	}

	if useLock && strings.TrimSpace(cfg.RedisURL) != "" {
		lockedCtx, release, err := holdFundingLock(ctx, cfg, engine, logger)
		if err != nil {
			return err
		}
		defer release()
		ctx = lockedCtx
	}

	report, err := engine.Run(ctx, batchID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		BatchID        string `json:"batchId"`
		FundingAddress string `json:"fundingAddress"`
		Status         string `json:"status"`
		Successes      int    `json:"successes"`
		Failures       int    `json:"failures"`
		Skipped        int    `json:"skipped"`
		MaxFeeExceeded bool   `json:"maxFeeExceeded"`
		Visited        int    `json:"visited"`
		Total          int    `json:"total"`
	}{
		BatchID:        report.BatchID,
		FundingAddress: report.FundingAddress,
		Status:         report.Result.Status().String(),
		Successes:      report.Result.Successes,
		Failures:       report.Result.Failures,
		Skipped:        report.Result.Skipped,
		MaxFeeExceeded: report.Result.MaxFeeExceeded,
		Visited:        report.Visited,
		Total:          report.Total,
	})
}

// holdFundingLock takes the same run lock the workers use. The returned context is
// cancelled if the lock is lost; the returned func releases the lock.
func holdFundingLock(
	ctx context.Context,
	cfg *config.Config,
	engine *disbursement.Engine,
	logger *zap.Logger,
) (context.Context, func(), error) {
	address, err := engine.FundingAddress()
	if err != nil {
		return nil, nil, err
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	runLock, err := infraredis.NewRedisRunLock(rdb, cfg.RunLockTTL())
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	lease, err := runLock.Acquire(ctx, lock.FundingAccountKey(address))
	if err != nil {
		_ = rdb.Close()
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, nil, fmt.Errorf("funding account %s is busy with another run: %w", address, err)
		}
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := lock.KeepAlive(runCtx, lease, runLock.TTL()/3, runLock.TTL(), logger); err != nil {
			logger.Error("run lock lost, stopping run", zap.Error(err))
			cancel()
		}
	}()

	return runCtx, func() {
		cancel()
		<-done
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release run lock", zap.Error(err))
		}
		_ = rdb.Close()
	}, nil
}
