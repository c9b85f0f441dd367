package journal

import (
	"context"
	"fmt"

	"github.com/anggasct/tracklock/pkg/fsm"
)

// Observer writes every transition of the machines it is attached to
type Observer struct {
	fsm.BaseObserver
	journal *Journal
	runID   string
}

// Observer returns an fsm observer that tags entries with runID
func (j *Journal) Observer(runID string) *Observer {
	return &Observer{journal: j, runID: runID}
}

// OnTransition appends the transition. Failures are logged and never block the machine.
func (o *Observer) OnTransition(from string, to string, event fsm.Event, ctx fsm.Context) {
	entry := Entry{RunID: o.runID, From: from, To: to}
	if event != nil {
		entry.Event = event.GetName()
		entry.EventID = event.GetID()
		entry.At = event.GetTimestamp()
		if data := event.GetData(); data != nil {
			entry.Detail = fmt.Sprint(data)
		}
	}
	var parent context.Context = context.Background()
	if ctx != nil {
		parent = context.WithoutCancel(ctx)
		if m := ctx.GetMachine(); m != nil {
			entry.Machine = m.Name()
		}
	}
	if err := o.journal.Append(parent, entry); err != nil {
		o.journal.logger.Warn("journal write failed", "error", err, "machine", entry.Machine)
	}
}
