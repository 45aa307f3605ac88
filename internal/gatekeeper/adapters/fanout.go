package adapters

import (
	"context"
	"errors"
	"log"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
)

// FanoutNotifier tries each channel in order and stops at the first one
// that accepts the notification.
type FanoutNotifier struct {
	channels []service.Notifier
	logger   *log.Logger
}

func NewFanoutNotifier(logger *log.Logger, channels ...service.Notifier) *FanoutNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &FanoutNotifier{channels: channels, logger: logger}
}

func (f *FanoutNotifier) NotifyResident(ctx context.Context, n service.Notification) (bool, error) {
	var errs []error
	for i, ch := range f.channels {
		sent, err := ch.NotifyResident(ctx, n)
		if err == nil && sent {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
			f.logger.Printf("notify session %s: channel %d failed: %v", n.SessionID, i, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return false, errors.Join(errs...)
}
