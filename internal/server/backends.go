package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/auth"
	"github.com/JakeFAU/contractor-socket/internal/clock/system"
	"github.com/JakeFAU/contractor-socket/internal/config"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/queue"
	memoryqueue "github.com/JakeFAU/contractor-socket/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/contractor-socket/internal/queue/pubsub"
	blobstorage "github.com/JakeFAU/contractor-socket/internal/storage"
	gcsstorage "github.com/JakeFAU/contractor-socket/internal/storage/gcs"
	localstorage "github.com/JakeFAU/contractor-socket/internal/storage/local"
	memorystorage "github.com/JakeFAU/contractor-socket/internal/storage/memory"
)

const mediaCacheControl = "public, max-age=31536000"

func newGate(cfg config.Config, clock *system.Clock) *auth.Gate {
	return auth.NewGate(cfg.Auth.MasterKey, cfg.RequestWindow(), clock)
}

func setupQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "pubsub":
		q, err := pubsubqueue.New(ctx, pubsubqueue.Config{
			ProjectID: cfg.PubSub.ProjectID,
			Routes: map[jobs.Priority]pubsubqueue.Route{
				jobs.PriorityNormal: {Topic: cfg.PubSub.Topic, Subscription: cfg.PubSub.Subscription},
				jobs.PriorityLow:    {Topic: cfg.PubSub.LowTopic, Subscription: cfg.PubSub.LowSubscription},
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub queue init failed: %w", err)
		}
		logger.Info("Pub/Sub job queue initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.Topic),
			zap.String("low_topic", cfg.PubSub.LowTopic),
		)
		return q, nil
	case "memory":
		logger.Info("using in-memory job queue", zap.Int("depth", cfg.Queue.Depth))
		return memoryqueue.NewQueue(cfg.Queue.Depth), nil
	default:
		return nil, fmt.Errorf("queue backend %q is not supported", cfg.Queue.Backend)
	}
}

// setupBlobStore returns the media store and, for GCS, the client the
// caller must close.
func setupBlobStore(
	ctx context.Context,
	cfg config.MediaConfig,
	logger *zap.Logger,
) (blobstorage.BlobStore, *storage.Client, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, CacheControl: mediaCacheControl})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		logger.Info("using GCS media backend", zap.String("bucket", cfg.Bucket))
		return blobs, client, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		logger.Info("using local media backend", zap.String("path", cfg.BaseDir))
		return blobs, nil, nil
	case "memory":
		logger.Info("using in-memory media backend")
		return memorystorage.NewBlobStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("media backend %q is not supported", cfg.Backend)
	}
}
