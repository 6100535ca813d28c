// Package session wires the debugger, the callback queue and the game state
// for one attached process. A Session is built once, passed to whatever
// consumes the state and closed explicitly.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hitzhangjie/bs3mem/pkg/config"
	"github.com/hitzhangjie/bs3mem/pkg/dispatch"
	"github.com/hitzhangjie/bs3mem/pkg/gamestate"
	"github.com/hitzhangjie/bs3mem/pkg/hooks"
	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/hitzhangjie/bs3mem/pkg/offsets"
	"github.com/hitzhangjie/bs3mem/pkg/symbol"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/sirupsen/logrus"
)

// ErrNoSites is returned when not a single breakpoint could be installed.
var ErrNoSites = errors.New("no breakpoint site installed")

// Session 一次调试会话
type Session struct {
	Config *config.Config
	Target target.Target
	Build  offsets.Build
	Module *symbol.ModuleInfo // nil when the headers could not be read
	Sites  []hooks.Result

	Mem     memory.Accessor
	Model   *object.Model
	State   *gamestate.State
	Hooks   *hooks.Hooks
	Queue   *dispatch.Queue[target.DebugEvent]
	Tracer  target.Tracer
	Manager *target.Manager
	Loop    *target.EventLoop

	closers []io.Closer
	log     *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	loopErr error
	closed  bool
}

// LoadTable returns the offset table cfg selects.
func LoadTable(cfg *config.Config) (*offsets.Table, error) {
	if cfg.Offsets != "" {
		return offsets.LoadFile(cfg.Offsets)
	}
	return offsets.Builtin()
}

// Open attaches to tgt and installs the sites of the configured build.
func Open(cfg *config.Config, tgt target.Target) (*Session, error) {
	pm, err := memory.OpenProcessMemory(tgt.Pid)
	if err != nil {
		return nil, err
	}
	tracer, err := target.Attach(tgt.Pid)
	if err != nil {
		pm.Close()
		return nil, fmt.Errorf("attach to %d: %w", tgt.Pid, err)
	}

	s, err := New(cfg, tgt, pm, tracer)
	if err != nil {
		if derr := tracer.Detach(); derr != nil {
			logflags.DebuggerLogger().WithError(derr).Warn("detach")
		}
		pm.Close()
		return nil, err
	}
	s.closers = append(s.closers, pm)
	return s, nil
}

// New builds a session over an already attached tracer. The event loop is
// not running until Start.
func New(cfg *config.Config, tgt target.Target, mem memory.Accessor, tracer target.Tracer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := LoadTable(cfg)
	if err != nil {
		return nil, err
	}
	build, err := table.Build(cfg.Build)
	if err != nil {
		return nil, err
	}

	model, err := object.NewModel(mem,
		object.WithMaxHops(cfg.Traverse.MaxHops),
		object.WithMarkerCache(cfg.MarkerCacheSize),
	)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Config: cfg,
		Target: tgt,
		Build:  build,
		Mem:    mem,
		Model:  model,
		State: gamestate.New(model,
			gamestate.WithTolerance(cfg.Conveyor.Tolerance),
			gamestate.WithMaxItemID(cfg.Items.MaxID),
		),
		Queue:  dispatch.New[target.DebugEvent]("callbacks"),
		Tracer: tracer,
		log:    logflags.DebuggerLogger().WithField("pid", tgt.Pid),
	}
	s.Hooks = hooks.New(s.State)
	s.Manager = target.NewManager(mem, tracer, s.Queue)
	s.Loop = target.NewEventLoop(tracer, s.Manager, cfg.LatencyBudget)

	if s.Module, err = symbol.Analyze(mem, tgt.ModuleBase); err != nil {
		s.log.WithError(err).Debug("module headers unreadable, sites not range checked")
	}
	rejected, build := s.checkSites(build)
	installed, err := hooks.Install(s.Manager, build, tgt.ModuleBase, s.Hooks, cfg.VerifySites)
	s.Sites = append(rejected, installed...)
	if err != nil || len(rejected) > 0 {
		s.log.WithError(err).Warnf("%d of %d breakpoint sites not installed",
			len(s.Sites)-len(s.Manager.List()), len(s.Sites))
	}
	if len(s.Manager.List()) == 0 {
		s.Queue.Close()
		return nil, fmt.Errorf("build %s: %w", build.ID, ErrNoSites)
	}
	return s, nil
}

// checkSites splits off the sites outside the module's code.
func (s *Session) checkSites(build offsets.Build) ([]hooks.Result, offsets.Build) {
	if s.Module == nil {
		return nil, build
	}
	var rejected []hooks.Result
	kept := build
	kept.Sites = nil
	for _, site := range build.Sites {
		if err := s.Module.CheckCode(site.Offset); err != nil {
			rejected = append(rejected, hooks.Result{
				Site: site,
				Addr: site.Address(s.Target.ModuleBase),
				Err:  fmt.Errorf("site %s: %w", site.Name, err),
			})
			continue
		}
		kept.Sites = append(kept.Sites, site)
	}
	return rejected, kept
}

// Start runs the event loop until ctx is done, the process exits or Close
// is called.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.closed {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		err := s.Loop.Run(ctx)
		s.mu.Lock()
		s.loopErr = err
		s.mu.Unlock()
		if errors.Is(err, target.ErrProcessExited) {
			s.log.Info("target exited")
		} else if err != nil {
			s.log.WithError(err).Error("event loop stopped")
		}
	}()
}

// Done is closed once the event loop has returned.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Err returns what the event loop returned.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopErr
}

// Close stops the event loop, which removes the breakpoints and detaches,
// drains the callback queue and releases the process.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		<-done
	} else {
		// never started, undo the patches ourselves
		if err := s.Manager.ClearAll(); err != nil {
			errs = append(errs, err)
		}
		if err := s.Tracer.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	s.Queue.Close()

	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
