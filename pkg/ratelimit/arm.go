package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

const (
	// Azure throttles writes per resource much harder than per subscription,
	// so each VM gets its own limiter on top of the global one.
	perVMRequestsPerSec = 2
	perVMBurst          = 4

	cleanupInterval = 10 * time.Minute
	expireAfter     = 30 * time.Minute
)

type vmLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ARMRateLimiter throttles outbound calls to the Azure management API with a
// global limiter plus a per-VM limiter that is cleaned up after inactivity.
type ARMRateLimiter struct {
	cfg           *config.AzureConfig
	log           *logrus.Logger
	globalLimiter *rate.Limiter
	vmLimiters    map[string]*vmLimiterEntry
	mu            sync.Mutex
	wg            sync.WaitGroup
}

func NewARMRateLimiter(cfg *config.AzureConfig, log *logrus.Logger) *ARMRateLimiter {
	return &ARMRateLimiter{
		cfg:           cfg,
		log:           log,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSec), cfg.MaxRequestsPerSec),
		vmLimiters:    make(map[string]*vmLimiterEntry),
		mu:            sync.Mutex{},
		wg:            sync.WaitGroup{},
	}
}

// Wait blocks until both the per-VM and the global limiter admit one request.
// vmID may be empty for calls that are not scoped to a single VM.
func (r *ARMRateLimiter) Wait(ctx context.Context, vmID string) error {
	if vmID != "" {
		entry := r.getVMLimiter(vmID)
		if err := entry.limiter.Wait(ctx); err != nil {
			r.log.WithError(err).Error("Failed to wait for per-VM rate limit")
			return err
		}
	}
	if err := r.globalLimiter.Wait(ctx); err != nil {
		r.log.WithError(err).Error("Failed to wait for global ARM rate limit")
		return err
	}
	return nil
}

func (r *ARMRateLimiter) getVMLimiter(vmID string) *vmLimiterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.vmLimiters[vmID]; exists {
		entry.lastAccess = time.Now()
		return entry
	}

	entry := &vmLimiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(perVMRequestsPerSec), perVMBurst),
		lastAccess: time.Now(),
	}
	r.vmLimiters[vmID] = entry
	return entry
}

func (r *ARMRateLimiter) StartCleanupExpired(ctx context.Context) {
	r.wg.Add(1)
	utils.SafeGo(func() {
		defer r.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.log.Info("Received signal to stop ARM rate limiter cleanup expired")
				return
			case <-ticker.C:
				r.mu.Lock()
				now := time.Now()
				for vmID, entry := range r.vmLimiters {
					if now.Sub(entry.lastAccess) > expireAfter {
						delete(r.vmLimiters, vmID)
					}
				}
				r.mu.Unlock()
			}
		}
	})
}

func (r *ARMRateLimiter) StopCleanupExpired() {
	r.wg.Wait()
	r.log.Info("ARM rate limiter stopped")
}
