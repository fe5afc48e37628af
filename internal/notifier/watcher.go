package notifier

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/task"
)

// Metrics receives notification delivery outcomes.
type Metrics interface {
	RecordNotification(status string)
}

// Watcher turns registry snapshots into notifications. It sends one message
// each time a key enters a terminal state.
type Watcher struct {
	notifier Notifier
	metrics  Metrics
	last     map[string]task.Status
}

func NewWatcher(n Notifier, m Metrics) *Watcher {
	return &Watcher{
		notifier: n,
		metrics:  m,
		last:     make(map[string]task.Status),
	}
}

// Run consumes snapshots until the channel is closed or ctx is done.
func (w *Watcher) Run(ctx context.Context, snapshots <-chan []task.State) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case states, ok := <-snapshots:
			if !ok {
				return nil
			}

			w.observe(ctx, states)
		}
	}
}

func (w *Watcher) observe(ctx context.Context, states []task.State) {
	logger := logctx.LoggerFromContext(ctx)
	seen := make(map[string]task.Status, len(states))

	for _, s := range states {
		key, status := s.Key(), s.Status()
		seen[key] = status

		if !task.IsTerminal(s) || w.last[key] == status {
			continue
		}

		err := w.notifier.Notify(ctx, Message(s))
		if err != nil {
			logger.Error("failed to send notification", "key", key, "err", err)
			w.record("error")

			continue
		}

		w.record("success")
	}

	w.last = seen
}

func (w *Watcher) record(status string) {
	if w.metrics != nil {
		w.metrics.RecordNotification(status)
	}
}

// Message renders the notification text for a terminal state.
func Message(s task.State) string {
	switch s := s.(type) {
	case task.Completed:
		msg := "✅ " + task.Describe(s)
		if br := s.Info.Format.Bitrate; br > 0 {
			msg += " (" + humanize.SI(float64(br), "bps") + ")"
		}

		return msg
	case task.AlreadyExists:
		return "ℹ️ " + task.Describe(s)
	case task.Failure:
		return "❌ " + task.Describe(s)
	default:
		return task.Describe(s)
	}
}
