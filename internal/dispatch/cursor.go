package dispatch

import (
	"context"
	"time"

	"github.com/smallbiznis/adl/internal/dispatch/domain"
	"gorm.io/gorm"
)

// CursorStore reads and advances per (channel, station) send cursors.
type CursorStore struct {
	db   *gorm.DB
	repo domain.Repository
}

func NewCursorStore(db *gorm.DB, repo domain.Repository) *CursorStore {
	return &CursorStore{db: db, repo: repo}
}

// LastSent returns the cursor, or nil when nothing was sent yet.
func (c *CursorStore) LastSent(ctx context.Context, channelID, stationID int64) (*time.Time, error) {
	status, err := c.repo.FindStatus(ctx, c.db, channelID, stationID)
	if err != nil || status == nil || status.LastSentObsTime == nil {
		return nil, err
	}
	t := status.LastSentObsTime.UTC()
	return &t, nil
}

// Advance sets the cursor to max(current, t) and returns the stored value.
func (c *CursorStore) Advance(ctx context.Context, channelID, stationID int64, t, now time.Time) (time.Time, error) {
	var stored time.Time
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.repo.AdvanceStatus(ctx, tx, channelID, stationID, t, now); err != nil {
			return err
		}
		status, err := c.repo.FindStatus(ctx, tx, channelID, stationID)
		if err != nil {
			return err
		}
		if status != nil && status.LastSentObsTime != nil {
			stored = status.LastSentObsTime.UTC()
		}
		return nil
	})
	return stored, err
}
