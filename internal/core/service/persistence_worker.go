package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/inventory-scan/internal/core/domain"
	"github.com/rl1809/inventory-scan/internal/port"
)

const (
	persistTimeout    = 5 * time.Second
	workerQueueBuffer = 64
)

// Rollbacker undoes the store side of a job the database rejected.
type Rollbacker interface {
	Rollback(ctx context.Context, job PersistJob) error
}

// RunPersistenceWorker drains jobs into the relational repository until the
// channel is closed. A create the database rejects is rolled back from the
// store so the record stops resolving.
func RunPersistenceWorker(id int, jobs <-chan PersistJob, repo port.RecordRepository, rb Rollbacker, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker", id)

	for job := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		persistJob(ctx, job, repo, rb, logger)
		cancel()
	}
}

// RunPersistencePool runs workers persistence workers over jobs and blocks
// until jobs is closed and every worker has drained. All jobs for one record
// id go to the same worker, so a record's create, updates and delete reach the
// repository in queue order.
func RunPersistencePool(workers int, jobs <-chan PersistJob, repo port.RecordRepository, rb Rollbacker, logger *slog.Logger) {
	if workers <= 0 {
		workers = 1
	}

	queues := make([]chan PersistJob, workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan PersistJob, workerQueueBuffer)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			RunPersistenceWorker(id, queues[id], repo, rb, logger)
		}(i)
	}

	for job := range jobs {
		queues[workerFor(job.Record.ID, workers)] <- job
	}
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
}

func workerFor(id string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(workers))
}

func persistJob(ctx context.Context, job PersistJob, repo port.RecordRepository, rb Rollbacker, logger *slog.Logger) {
	var err error
	switch job.Op {
	case PersistCreate:
		err = repo.CreateRecord(ctx, job.Record)
	case PersistUpdate:
		err = repo.UpdateRecord(ctx, job.Record)
		if errors.Is(err, domain.ErrOptimisticLock) {
			// The row already holds this version or a newer one
			logger.Debug("skipping stale update", "key", job.Key, "id", job.Record.ID, "version", job.Record.Version)
			return
		}
	case PersistDelete:
		err = repo.DeleteRecord(ctx, job.Record.ID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			err = nil
		}
	default:
		logger.Error("unknown persist op", "op", job.Op, "key", job.Key)
		return
	}

	if err == nil {
		logger.Debug("persisted record", "op", job.Op, "key", job.Key, "id", job.Record.ID)
		return
	}

	logger.Error("failed to persist record", "op", job.Op, "key", job.Key, "id", job.Record.ID, "error", err)
	if job.Op != PersistCreate {
		return
	}

	// Rollback: drop the record from the store
	if rbErr := rb.Rollback(ctx, job); rbErr != nil {
		logger.Error("CRITICAL rollback failed", "key", job.Key, "id", job.Record.ID, "error", rbErr)
	} else {
		logger.Info("rolled back record", "key", job.Key, "id", job.Record.ID)
	}
}
