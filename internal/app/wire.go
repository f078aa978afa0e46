package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/predictionhub/internal/blob/s3"
	"github.com/alanyoungcy/predictionhub/internal/cache/redis"
	"github.com/alanyoungcy/predictionhub/internal/config"
	"github.com/alanyoungcy/predictionhub/internal/domain"
	"github.com/alanyoungcy/predictionhub/internal/notify"
	"github.com/alanyoungcy/predictionhub/internal/platform/metadata"
	"github.com/alanyoungcy/predictionhub/internal/platform/subgraph"
	"github.com/alanyoungcy/predictionhub/internal/pipeline"
	"github.com/alanyoungcy/predictionhub/internal/store/postgres"
	"github.com/alanyoungcy/predictionhub/internal/store/sqlite"
)

// Store is what the sync job and status mode need from persistence.
type Store interface {
	domain.SyncStore
	domain.SyncStatusLister
	Ping(ctx context.Context) error
}

// Dependencies bundles the concrete implementations built by Wire. Redis and
// S3 backed fields are nil when those backends are not configured.
type Dependencies struct {
	Store Store

	Redis         *redis.Client
	LockManager   domain.LockManager
	RateLimiter   domain.RateLimiter
	SignalBus     *redis.SignalBus
	MetadataCache domain.MetadataCache

	Blob       *s3blob.Client
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Notifier *notify.Notifier
}

// needsStore reports whether mode touches the database.
func needsStore(mode string) bool {
	return strings.ToLower(mode) != "onboard"
}

// Wire builds every dependency cfg enables and returns a cleanup function
// that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	if needsStore(cfg.Mode) {
		switch strings.ToLower(cfg.Database.Driver) {
		case "sqlite":
			st, err := sqlite.Open(cfg.Database.SQLitePath)
			if err != nil {
				return fail("sqlite", err)
			}
			closers = append(closers, func() { _ = st.Close() })
			deps.Store = st
		default:
			pg, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Database.DSN,
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				Database: cfg.Database.Database,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				SSLMode:  cfg.Database.SSLMode,
				MaxConns: cfg.Database.PoolMaxConns,
				MinConns: cfg.Database.PoolMinConns,
			})
			if err != nil {
				return fail("postgres", err)
			}
			closers = append(closers, pg.Close)
			if cfg.Database.RunMigrations {
				if err := pg.RunMigrations(ctx); err != nil {
					return fail("postgres migrations", err)
				}
			}
			deps.Store = pgStore{Store: pg.Store(), client: pg}
		}
	}

	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.MetadataCache = redis.NewMetadataCache(rc)
	}

	if cfg.S3.Bucket != "" {
		bc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Blob = bc
		deps.BlobWriter = s3blob.NewWriter(bc)
		deps.BlobReader = s3blob.NewReader(bc)
	}

	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		return fail("notify", err)
	}
	deps.Notifier = notifier

	return deps, cleanup, nil
}

// pgStore adds the client's Ping to the postgres Store.
type pgStore struct {
	*postgres.Store
	client *postgres.Client
}

func (s pgStore) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (*notify.Notifier, error) {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		senders = append(senders, tg)
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger), nil
}

// newConditionSync builds the sync job over deps.
func newConditionSync(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *pipeline.ConditionSync {
	source := subgraph.NewClient(cfg.Sync.SubgraphURL, cfg.Sync.SubgraphAPIKey,
		subgraph.WithRateLimit(cfg.Sync.RequestsPerSec),
	)

	metaOpts := []metadata.Option{
		metadata.WithRateLimit(cfg.Sync.RequestsPerSec),
		metadata.WithLogger(logger),
	}
	if deps.MetadataCache != nil {
		metaOpts = append(metaOpts, metadata.WithCache(deps.MetadataCache))
	}
	meta := metadata.NewClient(cfg.Sync.MetadataGateway, metaOpts...)

	var images pipeline.ImageStore
	if deps.BlobWriter != nil {
		images = pipeline.NewBlobImageStore(meta, deps.BlobWriter, deps.BlobReader, cfg.S3.PublicBaseURL)
	}
	materializer := pipeline.NewMaterializer(deps.Store, meta, images, logger)

	var opts []pipeline.SyncOption
	if deps.LockManager != nil {
		opts = append(opts, pipeline.WithLocks(deps.LockManager))
	}
	if deps.SignalBus != nil {
		opts = append(opts, pipeline.WithSignalBus(deps.SignalBus))
	}
	opts = append(opts, pipeline.WithNotifier(deps.Notifier))

	return pipeline.NewConditionSync(source, deps.Store, materializer, pipeline.SyncConfig{
		ServiceName:     cfg.Sync.ServiceName,
		SubgraphName:    cfg.Sync.SubgraphName,
		AllowedCreators: cfg.Sync.AllowedCreatorSet(),
		PageSize:        cfg.Sync.PageSize,
		TimeBudget:      cfg.Sync.TimeBudget.Duration,
		StaleAfter:      cfg.Sync.StaleAfter.Duration,
	}, logger, opts...)
}
