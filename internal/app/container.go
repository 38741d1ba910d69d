package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/outbound-dialer/internal/campaignstatus"
	"github.com/acme/outbound-dialer/internal/concurrency"
	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/infra/db"
	"github.com/acme/outbound-dialer/internal/infra/redis"
	"github.com/acme/outbound-dialer/internal/queue"
	"github.com/acme/outbound-dialer/internal/scheduler"
	"github.com/acme/outbound-dialer/internal/store/postgres"
	"github.com/acme/outbound-dialer/internal/sweeper"
	telephonySvc "github.com/acme/outbound-dialer/internal/telephony"
	telephonyMock "github.com/acme/outbound-dialer/internal/telephony/mock"
	"github.com/acme/outbound-dialer/internal/worker"
	"github.com/acme/outbound-dialer/pkg/logger"
)

// Container wires together shared infrastructure and domain components.
// Each process entrypoint (scheduler, worker, sweeper) builds one
// Container and pulls only the pieces it runs.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Redis    *redis.Client
	Kafka    *queue.Kafka

	components struct {
		once       sync.Once
		gateway    *postgres.Gateway
		gate       *concurrency.Gate
		dispatcher *queue.Dispatcher
		deadLetter *queue.DeadLetterPublisher
		statusPub  *queue.StatusPublisher
		provider   telephonySvc.Provider
		schedLoop  *scheduler.Loop
		workerPool *worker.Pool
		sweep      *sweeper.Sweeper
		status     *campaignstatus.Aggregator
	}
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka, cfg.BullMQ)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		c.components.gateway = postgres.New(c.Postgres.DB())

		c.components.gate = concurrency.New(c.Redis.Inner(), c.Config.Worker.ConcurrencyGateTTL)

		c.components.dispatcher = queue.NewDispatcher(
			c.Kafka,
			c.Config.Kafka.DispatchTopic,
			c.Redis.Inner(),
			c.Config.Worker.DispatchDedupTTL,
		)

		c.components.deadLetter = queue.NewDeadLetterPublisher(c.Kafka, c.Config.Kafka.DeadLetterTopic)

		c.components.statusPub = queue.NewStatusPublisher(c.Kafka, c.Config.Kafka.StatusTopic)

		c.components.provider = telephonyMock.NewProvider(c.Config.CallBridge)

		c.components.status = campaignstatus.New(c.components.gateway)

		c.components.schedLoop = scheduler.New(
			c.components.gateway,
			c.components.dispatcher,
			c.Config.Scheduler,
			c.Logger,
		)

		c.components.workerPool = worker.New(
			c.components.gateway,
			c.components.gate,
			c.components.dispatcher,
			c.components.statusPub,
			c.components.deadLetter,
			c.Kafka,
			c.components.provider,
			c.Config.Worker,
			c.Logger,
		)

		c.components.sweep = sweeper.New(c.components.gateway, c.Config.Sweeper, c.Logger)
	})
}

// Gateway exposes the State Store Gateway.
func (c *Container) Gateway() *postgres.Gateway {
	c.initComponents()
	return c.components.gateway
}

// Gate exposes the per-campaign Concurrency Gate.
func (c *Container) Gate() *concurrency.Gate {
	c.initComponents()
	return c.components.gate
}

// Dispatcher exposes the Dispatch Queue front door.
func (c *Container) Dispatcher() *queue.Dispatcher {
	c.initComponents()
	return c.components.dispatcher
}

// DeadLetterPublisher exposes the terminal-failure notification feed.
func (c *Container) DeadLetterPublisher() *queue.DeadLetterPublisher {
	c.initComponents()
	return c.components.deadLetter
}

// StatusPublisher exposes the status-topic publisher.
func (c *Container) StatusPublisher() *queue.StatusPublisher {
	c.initComponents()
	return c.components.statusPub
}

// SchedulerLoop exposes the Scheduler Loop.
func (c *Container) SchedulerLoop() *scheduler.Loop {
	c.initComponents()
	return c.components.schedLoop
}

// WorkerPool exposes the Worker Pool.
func (c *Container) WorkerPool() *worker.Pool {
	c.initComponents()
	return c.components.workerPool
}

// Sweeper exposes the orphan sweeper.
func (c *Container) Sweeper() *sweeper.Sweeper {
	c.initComponents()
	return c.components.sweep
}

// CampaignStatus exposes the Campaign Status Aggregator.
func (c *Container) CampaignStatus() *campaignstatus.Aggregator {
	c.initComponents()
	return c.components.status
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error

	if c.components.dispatcher != nil {
		if err := c.components.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher close: %w", err))
		}
	}
	if c.components.deadLetter != nil {
		if err := c.components.deadLetter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dead letter publisher close: %w", err))
		}
	}
	if c.components.statusPub != nil {
		if err := c.components.statusPub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("status publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	c.initComponents()

	topics := []string{c.Config.Kafka.DispatchTopic, c.Config.Kafka.StatusTopic}
	if err := c.Kafka.EnsureTopics(ctx, topics, 48, 1); err != nil {
		return err
	}

	if c.Config.Kafka.DeadLetterTopic != "" {
		if err := c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.DeadLetterTopic}, 12, 1); err != nil {
			return err
		}
	}

	return nil
}
