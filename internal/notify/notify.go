// Package notify delivers applicant-facing waitlist messages. Actual mail
// delivery happens outside this service; implementations either log the
// message or hand it to an HTTP mail relay.
package notify

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
)

// Dispatcher sends waitlist messages. Each call is fallible on its own;
// callers decide what a failure means for the data change it accompanies.
type Dispatcher interface {
	SendWaitlistRegistered(ctx context.Context, entry *model.WaitlistEntry) error
	SendWaitlistPromotionClaim(ctx context.Context, entry *model.WaitlistEntry, deadline time.Time) error
}

// LogDispatcher writes messages to the log instead of sending them.
type LogDispatcher struct {
	logger logr.Logger
}

func NewLogDispatcher(logger logr.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.WithName("notify")}
}

func (d *LogDispatcher) SendWaitlistRegistered(_ context.Context, entry *model.WaitlistEntry) error {
	d.logger.Info("waitlist registration message", "to", entry.Email, "entryID", entry.ID, "position", entry.Position)
	return nil
}

func (d *LogDispatcher) SendWaitlistPromotionClaim(_ context.Context, entry *model.WaitlistEntry, deadline time.Time) error {
	d.logger.Info("waitlist claim message", "to", entry.Email, "entryID", entry.ID, "deadline", deadline.Format(time.RFC3339))
	return nil
}
