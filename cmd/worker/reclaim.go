package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/outreach/internal/claim"
	"github.com/jmehdipour/outreach/internal/db"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reclaimOnce bool

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Periodically return abandoned claims to pending",
	RunE:  runReclaim,
}

func init() {
	reclaimCmd.Flags().BoolVar(&reclaimOnce, "once", false, "sweep once and exit")
}

func runReclaim(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	q := claim.NewQueue(repository.NewRecipientsRepository(dbx), cfg.Runner.MaxBatch, nil)
	r := worker.NewReclaimer(q, log.Named("reclaim"), cfg.Reclaim.Schedule, cfg.Reclaim.StaleAfter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if reclaimOnce {
		n := r.Sweep(ctx)
		log.Info("sweep done", zap.Int64("released", n))
		return nil
	}

	serveMetrics(ctx, cfg.Worker.MetricsAddr, log)
	log.Info("reclaim worker started",
		zap.String("schedule", r.Schedule),
		zap.Duration("stale_after", r.StaleAfter),
	)
	return r.Run(ctx)
}
