package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-scan/internal/adapter/storage"
	"github.com/rl1809/inventory-scan/internal/config"
	"github.com/rl1809/inventory-scan/internal/core/domain"
	"github.com/rl1809/inventory-scan/internal/core/service"
	"github.com/rl1809/inventory-scan/internal/observability"
)

const (
	totalRecords      = 200
	duplicateAttempts = 50
	stressName        = "StressItem"
	stressInventoryID = "INV990000"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger("error", os.Stderr)

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Clear previous test data
	keys, _ := rdb.Keys(ctx, domain.KeyPrefix+":*").Result()
	if len(keys) > 0 {
		rdb.Del(ctx, keys...)
	}

	// Initialize adapter and services
	store := storage.NewRedisAdapter(rdb)
	normalizer := service.NewNormalizer(service.NormalizerConfig{})
	resolver := service.NewResolverService(store, normalizer, service.ResolverConfig{}, logger)
	registration := service.NewRegistrationService(store, cfg.CodeMaxAttempts, totalRecords+duplicateAttempts, logger)
	defer registration.Close()

	// Drain the persistence queue in background
	go func() {
		for range registration.Jobs() {
		}
	}()

	var registered, failed, dupAccepted, dupRejected atomic.Int32
	var mu sync.Mutex
	scanCodes := make(map[string]string, totalRecords)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRecords; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			rec, key, err := registration.Register(ctx, domain.InventoryRecord{
				ProductIdentifier:   fmt.Sprintf("PRD%06d", n%10),
				InventoryIdentifier: fmt.Sprintf("INV%06d", n),
				Name:                fmt.Sprintf("Item %d", n),
				Quantity:            1,
			})
			if err != nil {
				failed.Add(1)
				return
			}
			registered.Add(1)
			mu.Lock()
			if other, ok := scanCodes[rec.ScanCode]; ok {
				fmt.Printf("FAIL: scan code %s shared by %s and %s\n", rec.ScanCode, other, key)
			}
			scanCodes[rec.ScanCode] = key
			mu.Unlock()
		}(i)
	}

	for i := 0; i < duplicateAttempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, _, err := registration.Register(ctx, domain.InventoryRecord{
				InventoryIdentifier: stressInventoryID,
				Name:                stressName,
			})
			switch {
			case err == nil:
				dupAccepted.Add(1)
			case errors.Is(err, domain.ErrDuplicateRecord):
				dupRejected.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}

	wg.Wait()
	registerElapsed := time.Since(start)

	// Resolve every record by its inventory identifier
	var resolved, unverified, missing atomic.Int32
	start = time.Now()
	for i := 0; i < totalRecords; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			res, err := resolver.Resolve(ctx, fmt.Sprintf("INV%06d", n))
			switch {
			case err != nil || res == nil:
				missing.Add(1)
			case !res.Verified:
				unverified.Add(1)
			default:
				resolved.Add(1)
			}
		}(i)
	}
	wg.Wait()
	resolveElapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Records:            %d\n", totalRecords)
	fmt.Printf("Registered:         %d\n", registered.Load())
	fmt.Printf("Failed:             %d\n", failed.Load())
	fmt.Printf("Unique Scan Codes:  %d\n", len(scanCodes))
	fmt.Printf("Duplicate Accepted: %d\n", dupAccepted.Load())
	fmt.Printf("Duplicate Rejected: %d\n", dupRejected.Load())
	fmt.Printf("Register Duration:  %v\n", registerElapsed)
	fmt.Printf("Resolved+Verified:  %d\n", resolved.Load())
	fmt.Printf("Unverified:         %d\n", unverified.Load())
	fmt.Printf("Missing:            %d\n", missing.Load())
	fmt.Printf("Resolve Duration:   %v\n", resolveElapsed)
	fmt.Println("==========================================")

	// Assertions
	if registered.Load() == totalRecords && len(scanCodes) == totalRecords {
		fmt.Printf("PASS: %d records registered with unique scan codes\n", totalRecords)
	} else {
		fmt.Printf("FAIL: expected %d unique registrations, got %d (%d codes)\n",
			totalRecords, registered.Load(), len(scanCodes))
	}

	if dupAccepted.Load() == 1 && dupRejected.Load() == duplicateAttempts-1 {
		fmt.Println("PASS: exactly one registration won the shared key")
	} else {
		fmt.Printf("FAIL: expected 1 accepted/%d rejected, got %d/%d\n",
			duplicateAttempts-1, dupAccepted.Load(), dupRejected.Load())
	}

	if resolved.Load() == totalRecords {
		fmt.Println("PASS: every record resolved and verified")
	} else {
		fmt.Printf("FAIL: expected %d verified resolutions, got %d\n", totalRecords, resolved.Load())
	}
}
