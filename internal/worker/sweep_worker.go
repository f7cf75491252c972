package worker

import (
	"Loop/config"
	"Loop/internal/chunkstore"
	"Loop/internal/mq"
	"Loop/internal/repo"
	"Loop/internal/service"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"Loop/utils"
)

const sweepLockKey = "loop:sweep:lock"

// SweepDeps are the stores the sweep worker reconciles.
type SweepDeps struct {
	Records service.RecordStore
	Chunks  chunkstore.Store
	Rdb     *redis.Client // optional, guards the periodic scan
}

// RunSweepWorker consumes orphan-cleanup tasks from RabbitMQ and runs the
// periodic reconciliation scan. Blocks until the context is canceled.
func RunSweepWorker(ctx context.Context, deps SweepDeps) error {
	client, err := mq.Dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeclareTopology(); err != nil {
		return err
	}

	prefetch := config.AppConfig.SweepPrefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := client.Channel.Qos(prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := client.Channel.Consume(
		mq.QueueCleanup,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	concurrency := config.AppConfig.SweepConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	burst := config.AppConfig.SweepBurst
	if burst <= 0 {
		burst = 1
	}
	rateLimit := config.AppConfig.SweepRate
	var limiter *rate.Limiter
	if rateLimit <= 0 {
		limiter = rate.NewLimiter(rate.Inf, burst)
	} else {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}

	go runPeriodicSweep(ctx, deps)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("sweep worker: delivery channel closed")
			}
			sem <- struct{}{}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				handleCleanupMessage(ctx, client, limiter, deps, d)
			}(delivery)
		}
	}
}

func handleCleanupMessage(ctx context.Context, client *mq.Client, limiter *rate.Limiter, deps SweepDeps, delivery amqp.Delivery) {
	var msg mq.CleanupMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		log.Printf("sweep worker: invalid message: %v", err)
		_ = delivery.Ack(false)
		return
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			_ = delivery.Nack(false, true)
			return
		}
	}

	if err := cleanupFile(ctx, deps, msg.FileID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = delivery.Nack(false, true)
			return
		}
		if err := scheduleRetry(ctx, client, msg, err); err != nil {
			log.Printf("sweep worker: retry schedule failed: %v", err)
			_ = delivery.Nack(false, true)
			return
		}
		_ = delivery.Ack(false)
		return
	}
	_ = delivery.Ack(false)
}

// cleanupFile deletes the fragments of a dead upload and marks its record
// failed. Both sides tolerate the other already being gone.
func cleanupFile(ctx context.Context, deps SweepDeps, fileID string) error {
	if err := deps.Chunks.DeleteChunks(ctx, fileID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", fileID, err)
	}
	if err := deps.Records.MarkFailed(ctx, fileID); err != nil && !errors.Is(err, service.ErrFileNotFound) {
		return fmt.Errorf("mark %s failed: %w", fileID, err)
	}
	return nil
}

func scheduleRetry(ctx context.Context, client *mq.Client, msg mq.CleanupMessage, cause error) error {
	maxRetries := config.AppConfig.SweepRetryMax
	if msg.Attempt >= maxRetries {
		log.Printf("sweep worker: file %s exhausted %d retries: %v", msg.FileID, msg.Attempt, cause)
		return client.PublishDLQ(ctx, msg, cause.Error())
	}
	delays := config.AppConfig.SweepRetryDelays
	delay := time.Minute
	if len(delays) > 0 {
		idx := msg.Attempt
		if idx >= len(delays) {
			idx = len(delays) - 1
		}
		delay = delays[idx]
	}
	msg.Attempt++
	return client.PublishRetry(ctx, msg, delay)
}

// runPeriodicSweep scans for orphans on a timer: pending records past the
// TTL whose upload clearly died, and fragment sets whose record is gone.
func runPeriodicSweep(ctx context.Context, deps SweepDeps) {
	interval := config.AppConfig.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, deps)
		}
	}
}

func sweepOnce(ctx context.Context, deps SweepDeps) {
	if deps.Rdb != nil {
		lock := repo.NewRedisLock(deps.Rdb, sweepLockKey, config.AppConfig.SweepInterval)
		if err := lock.Lock(ctx); err != nil {
			return // another instance is sweeping
		}
		defer func() { _ = lock.Unlock(ctx) }()
	}

	cutoff := time.Now().Add(-config.AppConfig.PendingTTL)
	var details strings.Builder

	stale, err := deps.Records.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		log.Printf("sweep: list stale pending: %v", err)
		return
	}
	cleaned := 0
	for _, record := range stale {
		if err := cleanupFile(ctx, deps, record.ID); err != nil {
			log.Printf("sweep: %v", err)
			continue
		}
		cleaned++
		fmt.Fprintf(&details, "stale pending record %s (%s)\n", record.ID, record.Name)
	}

	orphans, err := deps.Chunks.OrphanFileIDs(ctx, cutoff, 100)
	if err != nil {
		log.Printf("sweep: list orphan chunks: %v", err)
		return
	}
	removed := 0
	for _, fileID := range orphans {
		if err := deps.Chunks.DeleteChunks(ctx, fileID); err != nil {
			log.Printf("sweep: delete orphan chunks of %s: %v", fileID, err)
			continue
		}
		removed++
		fmt.Fprintf(&details, "ownerless chunks for %s\n", fileID)
	}

	if cleaned == 0 && removed == 0 {
		return
	}
	log.Printf("sweep: cleaned %d stale records, removed %d ownerless chunk sets", cleaned, removed)

	if to := config.AppConfig.SweepReportEmail; to != "" {
		if err := utils.SendSweepReport(to, cleaned, removed, details.String()); err != nil {
			log.Printf("sweep: send report: %v", err)
		}
	}
}
