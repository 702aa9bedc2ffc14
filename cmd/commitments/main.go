package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lopezpalacios/recurring-commitment/common/aws/config"
	"github.com/lopezpalacios/recurring-commitment/common/aws/ddb"
	"github.com/lopezpalacios/recurring-commitment/common/aws/queue"
	"github.com/lopezpalacios/recurring-commitment/common/aws/storage"
	appcfg "github.com/lopezpalacios/recurring-commitment/common/config"
	"github.com/lopezpalacios/recurring-commitment/common/db"
	"github.com/lopezpalacios/recurring-commitment/common/ipfs"
	"github.com/lopezpalacios/recurring-commitment/common/loggers"
	"github.com/lopezpalacios/recurring-commitment/common/metric"
	"github.com/lopezpalacios/recurring-commitment/common/notifs"
	"github.com/lopezpalacios/recurring-commitment/common/token"
	"github.com/lopezpalacios/recurring-commitment/models"
	"github.com/lopezpalacios/recurring-commitment/services"
)

const shutdownWait = 30 * time.Second

type args struct {
	EnvFile  string   `arg:"--env-file" default:"env/.env" help:"dotenv file loaded before reading the environment"`
	NoRelay  bool     `arg:"--no-relay" help:"do not relay audit events"`
	NoClaims bool     `arg:"--no-claims" help:"do not consume claim requests"`
	Mint     []string `arg:"--mint,separate" help:"credit a pool and approve the ledger to spend it, as source:identity:amount"`
}

func (args) Description() string {
	return "Recurring pull-payment commitment ledger"
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := godotenv.Load(a.EnvFile); err != nil {
		log.Printf("main: no env file loaded from %s: %v", a.EnvFile, err)
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("main: %v", err)
	}

	logger := loggers.NewLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricService, err := metric.NewMetricService(ctx, logger, cfg.MetricsEndpoint, cfg.MetricsInterval)
	if err != nil {
		logger.Fatalf("main: %v", err)
	}
	notifier, err := notifs.NewDiscordHandler(logger, cfg.DiscordAlertWebhook, cfg.DiscordTestWebhook)
	if err != nil {
		logger.Fatalf("main: %v", err)
	}

	var repo models.CommitmentRepository
	if connUrl := cfg.Db.Url(); len(connUrl) > 0 {
		commitmentDb, err := db.NewCommitmentDb(ctx, logger, connUrl)
		if err != nil {
			logger.Fatalf("main: %v", err)
		}
		defer commitmentDb.Close()
		repo = commitmentDb
	} else {
		// This binary only claims, so an in-memory ledger never holds a commitment to claim against
		logger.Warnf("main: no database configured, claim requests will find no commitments")
		repo = db.NewMemoryRepository()
	}

	sources, err := valueSources(cfg, a.Mint)
	if err != nil {
		logger.Fatalf("main: %v", err)
	}
	ledger, err := services.NewCommitmentLedger(ctx, services.LedgerOpts{
		Deployer:      models.Identity(cfg.Deployer),
		Repository:    repo,
		ValueSources:  sources,
		MetricService: metricService,
		Notifier:      notifier,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatalf("main: error creating ledger: %v", err)
	}

	var awsCfg aws.Config
	if !a.NoRelay || !a.NoClaims {
		if awsCfg, err = config.AwsConfig(ctx, logger, cfg.AwsRegion, cfg.AwsEndpoint); err != nil {
			logger.Fatalf("main: error creating aws cfg: %v", err)
		}
	}

	wg := sync.WaitGroup{}
	if cfg.RelayEnabled && !a.NoRelay {
		relay, err := newRelay(ctx, cfg, awsCfg, repo, metricService, logger)
		if err != nil {
			logger.Fatalf("main: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				logger.Errorf("main: relay exited: %v", err)
			}
		}()
	}

	queues := make([]models.Queue, 0, 2)
	if !a.NoClaims {
		sqsClient := sqs.NewFromConfig(awsCfg)
		// Claim requests that keep failing end up in the DLQ, which raises an alert for each of them
		failureHandlingService := services.NewFailureHandlingService(notifier, metricService, logger)
		dlq, dlqArn, err := queue.NewQueue(
			ctx,
			metricService,
			logger,
			sqsClient,
			queue.Opts{Env: cfg.Env, QueueType: queue.Type_DLQ},
			failureHandlingService.DLQ,
		)
		if err != nil {
			logger.Fatalf("main: error creating dlq: %v", err)
		}
		queues = append(queues, dlq)
		claimService := services.NewClaimRequestService(ledger, metricService, logger)
		claimQueue, _, err := queue.NewQueue(
			ctx,
			metricService,
			logger,
			sqsClient,
			queue.Opts{
				Env:               cfg.Env,
				QueueType:         queue.Type_Claims,
				VisibilityTimeout: &cfg.VisibilityTimeout,
				RedriveOpts: &queue.RedriveOpts{
					DlqId:           dlqArn,
					MaxReceiveCount: models.QueueMaxReceiveCount,
				},
				NumWorkers: &cfg.ClaimWorkers,
			},
			claimService.Claim,
		)
		if err != nil {
			logger.Fatalf("main: error creating claim queue: %v", err)
		}
		queues = append(queues, claimQueue)
	}
	for _, q := range queues {
		q.Start()
	}

	logger.Infof("main: started in %s", cfg.Env)
	<-ctx.Done()
	logger.Infof("main: shutting down")

	for _, q := range queues {
		q.Shutdown()
		q.WaitForRxShutdown()
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownWait)
	defer shutdownCancel()
	metricService.Shutdown(shutdownCtx)
}

func newRelay(
	ctx context.Context,
	cfg *appcfg.Config,
	awsCfg aws.Config,
	repo models.CommitmentRepository,
	metricService models.MetricService,
	logger models.Logger,
) (*services.EventRelay, error) {
	publisher, err := queue.NewPublisher(ctx, metricService, logger, sqs.NewFromConfig(awsCfg), queue.Opts{
		Env:       cfg.Env,
		QueueType: queue.Type_Events,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating events publisher: %w", err)
	}
	opts := services.RelayOpts{
		Repository:    repo,
		StateDb:       ddb.NewStateDb(ctx, logger, dynamodb.NewFromConfig(awsCfg), cfg.Env),
		Publisher:     publisher,
		Topic:         cfg.RelayTopic,
		MetricService: metricService,
		Logger:        logger,
		Tick:          cfg.RelayTick,
		BatchSize:     cfg.RelayBatchSize,
	}
	if len(cfg.IpfsAddr) > 0 && len(cfg.RelayTopic) > 0 {
		if opts.IpfsApi, err = ipfs.NewIpfsApi(logger, cfg.IpfsAddr, metricService); err != nil {
			return nil, err
		}
	}
	if cfg.ArchiveEnabled {
		opts.Archive = storage.NewS3Store(logger, s3.NewFromConfig(awsCfg), cfg.ArchiveBucket)
	}
	return services.NewEventRelay(opts), nil
}

// valueSources registers an in-process pool for every configured source and applies the --mint seeds.
func valueSources(cfg *appcfg.Config, mints []string) (*token.Registry, error) {
	sources, err := cfg.Sources()
	if err != nil {
		return nil, err
	}
	registry := token.NewRegistry()
	pools := make(map[string]*token.Pool, len(sources))
	for _, source := range sources {
		pool := token.NewPool(source.Name, models.Identity(source.Spender))
		pools[source.Name] = pool
		registry.Register(source.Name, pool)
	}
	for _, mint := range mints {
		parts := strings.Split(mint, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid mint %q, expected source:identity:amount", mint)
		}
		pool, found := pools[parts[0]]
		if !found {
			return nil, fmt.Errorf("invalid mint %q, unknown source %s", mint, parts[0])
		}
		amount, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mint %q: %w", mint, err)
		}
		owner := models.Identity(parts[1])
		pool.Mint(owner, amount)
		pool.Approve(owner, pool.Allowance(owner)+amount)
	}
	return registry, nil
}
