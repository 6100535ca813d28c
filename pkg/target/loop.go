package target

import (
	"context"
	"errors"
	"time"

	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLatencyBudget is how long breakpoint handling may keep the
	// target suspended before a warning is logged.
	DefaultLatencyBudget = 50 * time.Millisecond

	drainTimeout = time.Second
)

// EventLoop receives the debug events of one process, drives the
// breakpoint manager and resumes the target.
type EventLoop struct {
	tracer Tracer
	mgr    *Manager
	budget time.Duration
	log    *logrus.Entry
}

// NewEventLoop returns a loop over tracer. A zero budget selects
// DefaultLatencyBudget.
func NewEventLoop(tracer Tracer, mgr *Manager, budget time.Duration) *EventLoop {
	if budget <= 0 {
		budget = DefaultLatencyBudget
	}
	return &EventLoop{
		tracer: tracer,
		mgr:    mgr,
		budget: budget,
		log:    logflags.DebuggerLogger().WithField("pid", tracer.Pid()),
	}
}

// Run handles events until the process exits or ctx is done. On ctx done
// the breakpoints are removed, threads still stepping are let through and
// the tracer detaches; Run then returns nil. A process exit returns
// ErrProcessExited.
func (l *EventLoop) Run(ctx context.Context) error {
	for {
		ev, err := l.tracer.WaitForDebugEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.shutdown()
			}
			return err
		}

		if ev.Kind == EventExitProcess {
			debugEvents.WithLabelValues(ev.Kind.String()).Inc()
			l.log.Infof("process exited with code %d", ev.ExitCode)
			return ErrProcessExited
		}
		if err := l.HandleEvent(ev); err != nil {
			if errors.Is(err, ErrProcessExited) {
				return err
			}
			l.log.WithError(err).WithField("tid", ev.Tid).Warn("continue debug event")
		}

		if ctx.Err() != nil {
			return l.shutdown()
		}
	}
}

// HandleEvent classifies one event, acts on it and resumes the thread.
func (l *EventLoop) HandleEvent(ev DebugEvent) error {
	handled := true
	trap := ev.Trap()
	log := l.log.WithFields(logrus.Fields{"tid": ev.Tid, "addr": ev.Addr})

	switch trap {
	case TrapBreakpoint:
		start := time.Now()
		handled = l.mgr.HandleBreakpoint(ev)
		if !handled && l.mgr.Retired(ev.Addr) {
			handled = true
		}
		if handled {
			l.rewind(ev.Tid, log)
		}

		elapsed := time.Since(start)
		breakpointLatency.Observe(elapsed.Seconds())
		if elapsed > l.budget {
			log.WithField("elapsed", elapsed).Warn("breakpoint handling over budget, target was stalled")
		} else {
			log.WithField("elapsed", elapsed).Debug("breakpoint handled")
		}

	case TrapSingleStep:
		l.mgr.ReinstateBreakpoint(ev.Tid)
		if err := l.mgr.ClearSingleStep(ev.Tid); err != nil {
			log.WithError(err).Warn("clear single step")
		}

	case TrapOther:
		handled = false
		log.Debugf("passing exception %#x to target", uint32(ev.Code))
	}

	debugEvents.WithLabelValues(eventLabel(ev, trap)).Inc()
	return l.tracer.ContinueDebugEvent(ev, handled)
}

// rewind moves the thread back onto the restored instruction.
func (l *EventLoop) rewind(tid int, log *logrus.Entry) {
	ctx, err := l.tracer.GetThreadContext(tid)
	if err != nil {
		log.WithError(err).Error("get thread context")
		return
	}
	ctx.Eip--
	if err := l.tracer.SetThreadContext(tid, ctx); err != nil {
		log.WithError(err).Error("set thread context")
	}
}

func (l *EventLoop) shutdown() error {
	if err := l.mgr.ClearAll(); err != nil {
		l.log.WithError(err).Warn("clear breakpoints")
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for l.mgr.PendingSteps() > 0 {
		ev, err := l.tracer.WaitForDebugEvent(ctx)
		if err != nil {
			l.log.WithError(err).Warnf("%d threads still stepping at detach", l.mgr.PendingSteps())
			break
		}
		if ev.Kind == EventExitProcess {
			return nil
		}
		if err := l.HandleEvent(ev); err != nil {
			l.log.WithError(err).Warn("continue debug event")
		}
	}

	if err := l.tracer.Detach(); err != nil {
		return err
	}
	l.log.Info("detached")
	return nil
}

func eventLabel(ev DebugEvent, trap Trap) string {
	if trap == TrapNone {
		return ev.Kind.String()
	}
	return trap.String()
}
