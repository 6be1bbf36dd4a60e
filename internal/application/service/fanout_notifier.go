package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/invoice-approval/internal/application/port"
)

// FanoutNotifier delivers a review request through every configured channel.
// It fails only when no channel succeeded.
type FanoutNotifier struct {
	notifiers []port.Notifier
	logger    Logger
}

var _ port.Notifier = (*FanoutNotifier)(nil)

// NewFanoutNotifier creates a FanoutNotifier; nil notifiers are skipped
func NewFanoutNotifier(logger Logger, notifiers ...port.Notifier) *FanoutNotifier {
	f := &FanoutNotifier{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// NotifyApprover implements port.Notifier
func (f *FanoutNotifier) NotifyApprover(ctx context.Context, req *port.ReviewRequest) error {
	if len(f.notifiers) == 0 {
		return errors.New("no notification channel configured")
	}

	var errs []error
	for i, n := range f.notifiers {
		if err := n.NotifyApprover(ctx, req); err != nil {
			f.logger.Error("Notification channel failed", "error", err, "channel", i, "approval_id", req.Approval.ID)
			errs = append(errs, err)
		}
	}

	if len(errs) == len(f.notifiers) {
		return fmt.Errorf("all notification channels failed: %w", errors.Join(errs...))
	}
	return nil
}
