package client

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateIssuing      State = "issuing"
	StateAwaiting     State = "awaiting"
)

const (
	eventConnect  = "connect"
	eventIssue    = "issue"
	eventSent     = "sent"
	eventComplete = "complete"
	eventDrop     = "drop"
)

func newStateMachine(log *zap.Logger) *fsm.FSM {
	return fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateDisconnected)}, Dst: string(StateConnected)},
			{Name: eventIssue, Src: []string{string(StateConnected)}, Dst: string(StateIssuing)},
			{Name: eventSent, Src: []string{string(StateIssuing)}, Dst: string(StateAwaiting)},
			{Name: eventComplete, Src: []string{string(StateIssuing), string(StateAwaiting)}, Dst: string(StateConnected)},
			{
				Name: eventDrop,
				Src:  []string{string(StateConnected), string(StateIssuing), string(StateAwaiting)},
				Dst:  string(StateDisconnected),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("Session state changed",
					zap.String("event", e.Event),
					zap.String("from", e.Src),
					zap.String("to", e.Dst))
			},
		},
	)
}
