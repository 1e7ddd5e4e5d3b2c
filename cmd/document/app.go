package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/scielo/kernel/internal/changes"
	"github.com/scielo/kernel/internal/config"
	"github.com/scielo/kernel/internal/database"
	"github.com/scielo/kernel/internal/document/handler"
	"github.com/scielo/kernel/internal/document/repository"
	"github.com/scielo/kernel/internal/document/service"
	"github.com/scielo/kernel/internal/sequence"
	"github.com/scielo/kernel/internal/storage"
	"github.com/scielo/kernel/pkg/logger"
	"github.com/scielo/kernel/pkg/middleware"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

const (
	mongoConnectAttempts = 5
	readyTimeout         = 2 * time.Second
)

// app holds the wired service and the clients readiness checks ping.
type app struct {
	cfg     *config.Config
	mongo   *mongo.Client
	redis   *redis.Client
	blobs   *storage.MinIOStorage
	svc     service.Service
	started time.Time
}

// newApp connects the configured backends and builds the document service.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, started: time.Now()}

	if cfg.Redis.Host != "" {
		client, err := database.ConnectRedis(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			if cfg.Storage.Sequence == config.SequenceRedis {
				return nil, err
			}
			logger.Warnf("redis unavailable, continuing without it: %v", err)
		} else {
			a.redis = client
			logger.Infof("connected to redis at %s", cfg.Redis.Addr())
		}
	}

	var docs, feed, seqStore repository.Backend
	switch cfg.Storage.Backend {
	case config.BackendMongo:
		client, err := database.ConnectMongoRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, mongoConnectAttempts, time.Second)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.mongo = client
		db := client.Database(cfg.MongoDB.Database)
		var opts []repository.MongoOption
		if cfg.MinIO.Enabled() {
			blobs, err := storage.NewMinIOStorage(ctx, &cfg.MinIO)
			if err != nil {
				a.close(ctx)
				return nil, err
			}
			a.blobs = blobs
			opts = append(opts, repository.WithBlobStore(blobs))
			logger.Infof("attachments stored in minio bucket %q", cfg.MinIO.Bucket)
		}
		docs = repository.NewMongoRepo(db.Collection(cfg.MongoDB.DocumentsCollection), opts...)
		feed = repository.NewMongoRepo(db.Collection(cfg.MongoDB.ChangesCollection))
		seqStore = repository.NewMongoRepo(db.Collection(cfg.MongoDB.SequenceCollection))
		logger.Infof("using mongo database %q", cfg.MongoDB.Database)
	default:
		if cfg.MinIO.Enabled() {
			logger.Warnf("MINIO_ENDPOINT is ignored with STORAGE_BACKEND=%s", cfg.Storage.Backend)
		}
		docs = repository.NewMemoryRepo()
		feed = repository.NewMemoryRepo()
		seqStore = repository.NewMemoryRepo()
		logger.Warnf("using in-memory storage: documents are lost on restart")
	}

	var seq sequence.Generator
	if cfg.Storage.Sequence == config.SequenceRedis {
		seq = sequence.NewRedisGenerator(a.redis, cfg.Storage.SequenceLabel)
	} else {
		seq = sequence.NewBackendGenerator(seqStore, cfg.Storage.SequenceLabel)
	}

	a.svc = service.New(docs, changes.NewService(feed, seq))
	return a, nil
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	if rl := a.cfg.RateLimit; rl.Enabled {
		if rl.UseRedis && a.redis != nil {
			win := time.Duration(rl.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(a.redis, rl.RPS, rl.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(rl.RPS, rl.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps, ok := a.ready(c.Request.Context())
		body := gin.H{"deps": deps, "uptime": time.Since(a.started).String()}
		if !ok {
			body["status"] = "not_ready"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ready"
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterSwagger(r)
	handler.RegisterDocumentRoutes(r, a.svc)
	return r
}

// ready pings every configured dependency concurrently.
func (a *app) ready(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		deps = map[string]string{"storage": a.cfg.Storage.Backend}
		ok   = true
	)
	check := func(name string, ping func(context.Context) error) func() error {
		return func() error {
			err := ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				deps[name] = fmt.Sprintf("down: %v", err)
				ok = false
				return nil
			}
			deps[name] = "up"
			return nil
		}
	}

	var g errgroup.Group
	if a.mongo != nil {
		g.Go(check("mongo", func(ctx context.Context) error { return a.mongo.Ping(ctx, nil) }))
	}
	if a.redis != nil {
		g.Go(check("redis", func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }))
	}
	if a.blobs != nil {
		g.Go(check("minio", a.blobs.Ping))
	}
	_ = g.Wait()
	return deps, ok
}

func (a *app) close(ctx context.Context) {
	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil {
			logger.Warnf("mongo disconnect: %v", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
