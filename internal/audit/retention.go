package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/settings"
)

const (
	defaultRetentionInterval = 6 * time.Hour
	defaultRetentionDays     = 90
	deleteBatchSize          = 5000
	maxDeleteBatchesPerRun   = 200
)

// RetentionCleaner periodically prunes old entity-level audit entries.
// Per-IOC history is untouched; it lives and dies with its indicator.
type RetentionCleaner struct {
	db        *gorm.DB
	interval  time.Duration
	batchSize int
}

// NewRetentionCleaner builds a cleaner over the shared store.
func NewRetentionCleaner(db *gorm.DB) *RetentionCleaner {
	if db == nil {
		return nil
	}
	return &RetentionCleaner{
		db:        db,
		interval:  defaultRetentionInterval,
		batchSize: deleteBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go c.run(ctx)
	log.WithField("interval", c.interval).Info("audit retention cleaner started")
}

func (c *RetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.cleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (c *RetentionCleaner) cleanupOnce(ctx context.Context) {
	retentionDays := defaultRetentionDays
	raw, errGet := settings.Get(ctx, c.db, settings.KeyAuditRetentionDays, "")
	if errGet != nil {
		log.WithError(errGet).Warn("audit retention cleaner: read config failed")
		return
	}
	if raw != "" {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(raw))
		if errParse != nil || parsed < 0 {
			log.WithField("value", raw).Warn("audit retention cleaner: ignoring invalid retention setting")
		} else {
			retentionDays = parsed
		}
	}
	if retentionDays == 0 {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deletedTotal := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return
		}
		n, errDelete := c.deleteBatch(ctx, cutoff)
		if errDelete != nil {
			log.WithError(errDelete).Warn("audit retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}

	if deletedTotal > 0 {
		log.WithFields(log.Fields{
			"deleted":        deletedTotal,
			"cutoff":         cutoff.Format(time.RFC3339),
			"retention_days": retentionDays,
		}).Info("audit retention cleaner: pruned old entries")
	}
}

// deleteBatch removes one bounded batch so a large backlog never holds a
// long transaction or table lock.
func (c *RetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM audit_logs
		WHERE id IN (
			SELECT id FROM audit_logs
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff, c.batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
