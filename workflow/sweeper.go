package workflow

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/models"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeadlineSweeper moves Open sessions and quick runs to Locked once their
// deadline has elapsed. It runs on a timer; each sweep is idempotent, so two
// sweeps racing (or a sweep racing a manual lock) converge on the same state.
type DeadlineSweeper struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Interval time.Duration
	LockTTL  time.Duration
}

func NewDeadlineSweeper(db *gorm.DB, logger *logrus.Logger) *DeadlineSweeper {
	return &DeadlineSweeper{
		DB:       db,
		Logger:   logger,
		Interval: time.Minute,
		LockTTL:  45 * time.Second,
	}
}

// Run loops until the context is cancelled. When redis is available, a
// leader lock keeps multiple replicas from sweeping in the same tick; the
// sweep itself stays safe without it.
func (s *DeadlineSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

func (s *DeadlineSweeper) sweepOnce(ctx context.Context) {
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "lock:deadline-sweeper", s.LockTTL, nil)
		if err == redislock.ErrNotObtained {
			return
		}
		if err == nil {
			defer lock.Release(context.Background())
		}
		// Any other redis error: sweep anyway, the updates are idempotent.
	}

	if _, err := s.LockExpiredSessions(ctx, ""); err != nil {
		config.LogError(s.Logger, "workflow", "LockExpiredSessions", "sweep failed", nil, err)
	}
	if _, err := s.LockExpiredQuickRuns(ctx); err != nil {
		config.LogError(s.Logger, "workflow", "LockExpiredQuickRuns", "sweep failed", nil, err)
	}
}

// sweepContext runs sweeps unscoped: the sweeper serves every tenant and
// stamps each notification with the row's own tenant.
func sweepContext(ctx context.Context) context.Context {
	return utils.SetSkipTenantScopeInContext(ctx, true)
}

// LockExpiredSessions transitions every Open session whose deadline has
// passed to Locked, one row-locked transaction per session so a crashed
// sweep leaves prior rows locked and notified. A non-empty timezone
// restricts the sweep to organizations configured for it, for schedulers
// that tick per timezone; empty sweeps everyone. The update re-checks the
// status under the lock; a session closed or already locked in the gap is
// skipped, not an error.
func (s *DeadlineSweeper) LockExpiredSessions(ctx context.Context, timezone string) (int, error) {
	ctx = sweepContext(ctx)
	now := time.Now().UTC()

	q := s.DB.WithContext(ctx).
		Where("sessions.status = ? AND sessions.deadline_at <= ?", models.SessionStatusOpen, now)
	if timezone != "" {
		q = q.Joins("JOIN organizations ON organizations.id = sessions.tenant_id").
			Where("organizations.timezone = ?", timezone)
	}
	var due []models.Session
	if err := q.Find(&due).Error; err != nil {
		return 0, err
	}

	locked := 0
	for _, session := range due {
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row models.Session
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&row, session.ID).Error; err != nil {
				return err
			}
			if !row.Status.IsOpen() || row.DeadlineAt.After(now) {
				return nil
			}
			if err := tx.Model(&models.Session{}).Where("id = ?", row.ID).
				Update("status", models.SessionStatusLocked).Error; err != nil {
				return err
			}
			locked++
			return models.EnqueueNotification(ctx, tx, &models.NotificationRecord{
				TenantId:      row.TenantId,
				ChannelId:     row.ChannelId,
				EventType:     models.NotifyEventSessionLocked,
				ReferenceId:   row.ID,
				ReferenceType: "sessions",
			})
		})
		if err != nil {
			return locked, err
		}
	}
	return locked, nil
}

// LockExpiredQuickRuns is the quick-run side of the sweep, same protocol.
func (s *DeadlineSweeper) LockExpiredQuickRuns(ctx context.Context) (int, error) {
	ctx = sweepContext(ctx)
	now := time.Now().UTC()

	var due []models.QuickRun
	err := s.DB.WithContext(ctx).
		Where("status = ? AND deadline_at <= ?", models.QuickRunStatusOpen, now).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	locked := 0
	for _, run := range due {
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row models.QuickRun
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&row, run.ID).Error; err != nil {
				return err
			}
			if !row.Status.IsOpen() || row.DeadlineAt.After(now) {
				return nil
			}
			if err := tx.Model(&models.QuickRun{}).Where("id = ?", row.ID).
				Update("status", models.QuickRunStatusLocked).Error; err != nil {
				return err
			}
			locked++
			return models.EnqueueNotification(ctx, tx, &models.NotificationRecord{
				TenantId:      row.TenantId,
				ChannelId:     row.ChannelId,
				EventType:     models.NotifyEventQuickRunLocked,
				ReferenceId:   row.ID,
				ReferenceType: "quick_runs",
			})
		})
		if err != nil {
			return locked, err
		}
	}
	return locked, nil
}
