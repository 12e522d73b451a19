package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/outreach/internal/claim"
	"github.com/jmehdipour/outreach/internal/config"
	"github.com/jmehdipour/outreach/internal/db"
	"github.com/jmehdipour/outreach/internal/kafka"
	"github.com/jmehdipour/outreach/internal/lifecycle"
	"github.com/jmehdipour/outreach/internal/lock"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/outreach"
	"github.com/jmehdipour/outreach/internal/pacing"
	"github.com/jmehdipour/outreach/internal/platform"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Consume run commands and execute outreach runs",
	RunE:  runRunner,
}

func runRunner(cmd *cobra.Command, args []string) error {
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

	rdb, err := db.NewRedisClient(db.RedisOptsFrom(cfg.Redis))
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	accounts := repository.NewAccountsRepository(dbx)
	recipients := repository.NewRecipientsRepository(dbx)
	runs := repository.NewRunsRepository(dbx)

	pacer := pacing.New(accounts, policiesFrom(cfg.Pacing), nil, nil)
	for _, k := range model.Kinds() {
		log.Info("pacing policy", zap.String("kind", k.String()), zap.Stringer("policy", pacer.Policy(k)))
	}

	client := platform.NewHTTPClient(platform.HTTPConfig{
		BaseURL:       cfg.Platform.BaseURL,
		Token:         cfg.Platform.Token,
		Timeout:       time.Duration(cfg.Platform.TimeoutMs) * time.Millisecond,
		RPS:           cfg.Platform.RPS,
		FailThreshold: cfg.Platform.Breaker.FailThreshold,
		OpenFor:       time.Duration(cfg.Platform.Breaker.OpenForMs) * time.Millisecond,
	})

	runner := outreach.NewRunner(outreach.Deps{
		Accounts: accounts,
		Queue:    claim.NewQueue(recipients, cfg.Runner.MaxBatch, nil),
		Pacer:    pacer,
		Machine:  lifecycle.NewMachine(recipients, nil),
		Client:   client,
	}, outreach.Config{
		MaxBatch:     cfg.Runner.MaxBatch,
		MaxTokenWait: cfg.Runner.MaxTokenWait,
		HardStopWait: cfg.Runner.HardStopWait,
		Jitter:       cfg.Runner.Jitter,
	}, log.Named("runner"))

	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = "outreach.runs"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewRunnerKafka(consumer, runs, runner, lock.NewRedisLocker(rdb), log.Named("worker"))
	if cfg.Worker.Concurrency > 0 {
		w.Workers = cfg.Worker.Concurrency
	}
	if cfg.Runner.LockTTL > 0 {
		w.LockTTL = cfg.Runner.LockTTL
	}
	if host, err := os.Hostname(); err == nil {
		w.Instance = host + ":"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveMetrics(ctx, cfg.Worker.MetricsAddr, log)

	log.Info("runner worker started",
		zap.String("topic", topic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("workers", w.Workers),
		zap.Duration("lock_ttl", w.LockTTL),
	)
	return w.Run(ctx)
}

func policiesFrom(c config.PacingConfig) map[model.Kind]pacing.Policy {
	conv := func(k config.KindPacing) pacing.Policy {
		return pacing.Policy{
			MinInterval:          k.MinInterval,
			MaxInterval:          k.MaxInterval,
			SpeedupStreak:        k.SpeedupStreak,
			SpeedupFactor:        k.SpeedupFactor,
			SlowdownMin:          k.SlowdownMin,
			SlowdownMax:          k.SlowdownMax,
			CountsTowardDailyCap: k.CountsTowardDailyCap,
		}
	}
	return map[model.Kind]pacing.Policy{
		model.KindInvite: conv(c.Invite),
		model.KindSend:   conv(c.Send),
	}
}
