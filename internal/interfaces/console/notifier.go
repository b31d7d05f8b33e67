package console

import (
	"context"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
)

// Notifier logs every terminal outcome at a level matched to its severity.
// It is the default operator channel when no messaging integration is
// configured; anything implementing port.Notifier can replace it.
type Notifier struct{}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) Notify(ctx context.Context, note port.Notification) error {
	ev := log.Info()
	switch note.Severity {
	case "warn":
		ev = log.Warn()
	case "critical":
		ev = log.Error()
	}
	ev.Str("direction", note.Direction).
		Float64("notional_usd", note.NotionalUSD).
		Float64("pnl", note.PnL).
		Str("code", note.Code).
		Msg(note.Message)
	return nil
}

var _ port.Notifier = (*Notifier)(nil)
