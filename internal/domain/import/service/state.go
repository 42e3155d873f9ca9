package service

import (
	"fmt"
	"log/slog"
	"slices"
)

// State is a step of a single file's import lifecycle.
type State string

const (
	StateReceived        State = "received"
	StateProfiling       State = "profiling"
	StateConfigReady     State = "config_ready"
	StateParsing         State = "parsing"
	StateDeduplicating   State = "deduplicating"
	StatePreviewReturned State = "preview_returned"
	StateConfirmed       State = "confirmed"
	StatePersisted       State = "persisted"
	StateAbandoned       State = "abandoned"
	StateFailed          State = "failed"
)

var transitions = map[State][]State{
	StateReceived:        {StateProfiling, StateFailed},
	StateProfiling:       {StateConfigReady, StateFailed},
	StateConfigReady:     {StateParsing},
	StateParsing:         {StateDeduplicating, StateFailed},
	StateDeduplicating:   {StatePreviewReturned},
	StatePreviewReturned: {StateConfirmed, StateAbandoned},
	StateConfirmed:       {StatePersisted, StateFailed},
}

// CanTransition reports whether to is a legal next state.
func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// lifecycle tracks one file through the state machine.
type lifecycle struct {
	filename string
	state    State
	logger   *slog.Logger
}

func newLifecycle(filename string, logger *slog.Logger) *lifecycle {
	return &lifecycle{filename: filename, state: StateReceived, logger: logger}
}

func (l *lifecycle) advance(to State) error {
	if !l.state.CanTransition(to) {
		return fmt.Errorf("illegal import transition %s -> %s", l.state, to)
	}
	l.logger.Debug("import state", "filename", l.filename, "from", l.state, "to", to)
	l.state = to
	return nil
}

// must is advance for transitions the pipeline guarantees.
func (l *lifecycle) must(to State) {
	if err := l.advance(to); err != nil {
		panic(err)
	}
}
