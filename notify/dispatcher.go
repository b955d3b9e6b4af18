package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhubert/taskspace/logger"
)

// Dispatcher delivers a notification to several notifiers, one after
// another. A failing notifier does not stop delivery to the rest.
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher returns a Dispatcher over notifiers; nil entries are skipped.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

func (d *Dispatcher) Name() string { return "dispatcher" }

func (d *Dispatcher) Capabilities() Capabilities {
	var c Capabilities
	for _, n := range d.notifiers {
		nc := n.Capabilities()
		c.RichFormatting = c.RichFormatting || nc.RichFormatting
		c.Links = c.Links || nc.Links
	}
	return c
}

// Send delivers n to each notifier in turn and returns the joined failures,
// each prefixed with the notifier's name. Logging the failure is left to
// the caller.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	log := logger.WithComponent("notify")

	var errs []error
	for _, target := range d.notifiers {
		if err := target.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name(), err))
			continue
		}
		log.Debug("notification sent", "notifier", target.Name(), "title", n.Title)
	}
	return errors.Join(errs...)
}

// Len returns the number of notifiers.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}
