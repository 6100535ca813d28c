// Package hooks holds the breakpoint callbacks that turn traps at the
// offset table's sites into game state updates.
//
// Callbacks run on the dispatch worker while the target keeps running, so
// every read may observe memory the game is changing. A failed read skips
// the update; a list that does not materialize is discarded whole.
package hooks

import (
	"errors"
	"fmt"

	"github.com/hitzhangjie/bs3mem/pkg/gamestate"
	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/hitzhangjie/bs3mem/pkg/offsets"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/sirupsen/logrus"
)

// offset of the conveyor's item count in the object EDI points to at the
// conveyor-size and conveyor-remove sites
const offConveyorCount = 0x10C

// Hooks 断点回调集合
type Hooks struct {
	state *gamestate.State
	model *object.Model
	mem   memory.Accessor
	log   *logrus.Entry
}

// New returns the callbacks feeding state.
func New(state *gamestate.State) *Hooks {
	return &Hooks{
		state: state,
		model: state.Model(),
		mem:   state.Model().Memory(),
		log:   logflags.HooksLogger(),
	}
}

// Callback returns the callback bound to a site name.
func (h *Hooks) Callback(site string) (target.Callback, bool) {
	switch site {
	case offsets.SiteBBPercent:
		return h.BBPercent, true
	case offsets.SiteConveyorSize:
		return h.ConveyorSize, true
	case offsets.SiteConveyorAdd:
		return h.ConveyorAdd, true
	case offsets.SiteConveyorRemove:
		return h.ConveyorRemove, true
	case offsets.SiteCustomer:
		return h.Customer, true
	}
	return nil, false
}

// BBPercent reads the BurgerBot progress ECX points to.
func (h *Hooks) BBPercent(ev target.DebugEvent) {
	addr := memory.Address(ev.Context.Ecx)
	v, err := memory.ReadFloat32(h.mem, addr)
	if err != nil {
		h.log.WithError(err).WithField("site", ev.Site).Debug("skip update")
		return
	}
	h.state.SetBBPercent(v)
}

// ConveyorSize reads the expected number of conveyor items.
func (h *Hooks) ConveyorSize(ev target.DebugEvent) {
	addr := memory.Address(ev.Context.Edi).Add(offConveyorCount)
	n, err := memory.ReadInt32(h.mem, addr)
	if err != nil {
		h.log.WithError(err).WithField("site", ev.Site).Debug("skip update")
		return
	}
	h.state.SetNumConveyorItems(n)
}

// ConveyorAdd fires while a node is linked in; EDX is a node of the list.
func (h *Hooks) ConveyorAdd(ev target.DebugEvent) {
	h.conveyor(ev, memory.Address(ev.Context.Edx))
}

// ConveyorRemove fires while the count drops; the walk starts at the count
// field the instruction decrements.
func (h *Hooks) ConveyorRemove(ev target.DebugEvent) {
	h.conveyor(ev, memory.Address(ev.Context.Edi).Add(offConveyorCount))
}

func (h *Hooks) conveyor(ev target.DebugEvent, start memory.Address) {
	log := h.log.WithFields(logrus.Fields{"site": ev.Site, "start": start})

	items, walk, err := h.model.ConveyorFrom(start)
	if err != nil {
		log.WithError(err).Debug("discard batch")
		return
	}
	if walk.Degraded {
		log.Debug("no sentinel within hop cap")
	}
	if !h.state.AcceptConveyorBatch(items) {
		log.Debugf("batch of %d items rejected", len(items))
	}
}

// Customer fires when a customer is created; EBX points to it.
func (h *Hooks) Customer(ev target.DebugEvent) {
	c := object.Customer{Addr: memory.Address(ev.Context.Ebx)}
	if !h.state.AddCustomer(c) {
		h.log.WithField("addr", c.Addr).Debug("not a new customer")
	}
}

// Installer plants breakpoints.
type Installer interface {
	SetBreakpoint(addr memory.Address, site string, cb target.Callback) (target.Breakpoint, error)
}

// Result is the outcome of installing one site.
type Result struct {
	Site       offsets.Site
	Addr       memory.Address
	Breakpoint target.Breakpoint
	Err        error
}

// ErrNoCallback is returned for sites without a callback.
var ErrNoCallback = errors.New("no callback for site")

// Install plants a breakpoint at every site of build. With verify set, a
// site whose code does not match its pattern is skipped. Failures are
// reported per site and joined into the returned error; sites that did
// install stay installed.
func Install(mgr Installer, build offsets.Build, base memory.Address, h *Hooks, verify bool) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, site := range build.Sites {
		res := Result{Site: site, Addr: site.Address(base)}
		res.Breakpoint, res.Err = h.install(mgr, site, base, verify)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (h *Hooks) install(mgr Installer, site offsets.Site, base memory.Address, verify bool) (target.Breakpoint, error) {
	addr := site.Address(base)
	log := h.log.WithFields(logrus.Fields{"site": site.Name, "addr": addr})

	cb, ok := h.Callback(site.Name)
	if !ok {
		return target.Breakpoint{}, fmt.Errorf("%s: %w", site.Name, ErrNoCallback)
	}
	if verify {
		if err := offsets.Verify(h.mem, base, site); err != nil {
			log.WithError(err).Warn("site skipped")
			return target.Breakpoint{}, err
		}
	}
	if insts, err := target.Disassemble(h.mem, addr, 1, "intel", nil); err == nil && len(insts) > 0 {
		log = log.WithField("inst", insts[0].Asm)
	}

	bp, err := mgr.SetBreakpoint(addr, site.Name, cb)
	if err != nil {
		log.WithError(err).Warn("breakpoint not installed")
		return target.Breakpoint{}, fmt.Errorf("site %s: %w", site.Name, err)
	}
	log.Debug("breakpoint installed")
	return bp, nil
}
