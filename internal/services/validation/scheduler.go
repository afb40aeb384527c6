package validation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

// Scheduler ticks on a fixed interval and runs every enabled assignment
// whose next_run_at has come due. Hosts run concurrently with each other,
// but assignments of one host always run sequentially.
type Scheduler struct {
	log            *logrus.Logger
	cfg            *config.ValidationConfig
	assignmentRepo repository.AssignmentRepository
	engine         Engine
	wg             sync.WaitGroup
}

const maxConcurrentHosts = 4

func NewScheduler(log *logrus.Logger, cfg *config.ValidationConfig, assignmentRepo repository.AssignmentRepository, engine Engine) *Scheduler {
	return &Scheduler{
		log:            log,
		cfg:            cfg,
		assignmentRepo: assignmentRepo,
		engine:         engine,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	utils.SafeGo(func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SchedulerInterval)
		defer ticker.Stop()

		s.log.WithField("interval", s.cfg.SchedulerInterval).Info("Validation scheduler started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Received signal to stop validation scheduler")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	})
}

func (s *Scheduler) Stop() {
	s.wg.Wait()
	s.log.Info("Validation scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.assignmentRepo.GetList(ctx, models.AssignmentQueryParam{
		Enabled: utils.ToPointer(true),
		DueOnly: true,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to list due assignments")
		return
	}
	if len(due) == 0 {
		return
	}

	// The list is ordered by vm_id, so grouping preserves per-host order.
	byHost := map[string][]uint{}
	for _, assignment := range due {
		byHost[assignment.VMID] = append(byHost[assignment.VMID], assignment.ID)
	}
	s.log.WithFields(logrus.Fields{
		"assignments": len(due),
		"hosts":       len(byHost),
	}).Info("Running due validation assignments")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentHosts)
	for _, ids := range byHost {
		assignmentIDs := ids
		g.Go(func() error {
			for _, id := range assignmentIDs {
				if stop, _ := utils.ShouldStopCtx(gctx, s.log); stop {
					return nil
				}
				if _, err := s.engine.RunAssignment(gctx, id); err != nil {
					s.log.WithError(err).WithField("assignment_id", id).Error("Scheduled run failed")
				}
			}
			return nil
		})
	}
	g.Wait()
}
