package alert

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/audit"
)

// Dispatcher fans out events to matching webhooks.
type Dispatcher struct {
	hooks  []Webhook
	client *http.Client
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Returns nil when hooks is empty.
func NewDispatcher(hooks []Webhook, log *zap.Logger) *Dispatcher {
	if len(hooks) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		hooks:  hooks,
		client: &http.Client{Timeout: requestTimeout},
		log:    log,
	}
}

// Dispatch sends ev to every webhook whose Events match its decision or
// Control Room operation. Sends run in the background; Wait drains them.
func (d *Dispatcher) Dispatch(ev Event) {
	for _, h := range d.hooks {
		if !matches(h.Events, ev) {
			continue
		}
		d.wg.Add(1)
		go func(h Webhook) {
			defer d.wg.Done()
			if err := Send(context.Background(), d.client, h, ev); err != nil {
				d.log.Warn("alert delivery failed",
					zap.String("url", h.URL),
					zap.String("decision", ev.Decision),
					zap.Error(err))
			}
		}(h)
	}
}

// Wait blocks until in-flight sends have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func matches(events []string, ev Event) bool {
	for _, e := range events {
		if e == ev.Decision || (ev.Kind == audit.KindControlRoom && e == ev.Action) {
			return true
		}
	}
	return false
}

type recorder struct {
	next audit.Recorder
	d    *Dispatcher
}

// Recorder wraps next so that every recorded entry is also offered to d.
// A nil d returns next unchanged. Entries next fails to record are not
// alerted.
func Recorder(next audit.Recorder, d *Dispatcher) audit.Recorder {
	if d == nil {
		return next
	}
	return recorder{next: next, d: d}
}

func (r recorder) Record(e audit.Entry) error {
	if err := r.next.Record(e); err != nil {
		return err
	}
	r.d.Dispatch(FromEntry(e))
	return nil
}
