package target

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	bpSeqNo = atomic.NewUint64(0)
)

// int3
const trapInstruction = 0xCC

// Callback 断点回调，在dispatch worker上执行
type Callback func(ev DebugEvent)

// Scheduler hands a callback to another goroutine without blocking.
type Scheduler interface {
	Enqueue(ev DebugEvent, cb func(DebugEvent)) bool
}

// Breakpoint 断点信息
type Breakpoint struct {
	ID      uint64         // 断点编号
	Addr    memory.Address // 断点地址
	Site    string         // 断点位置名称
	Orig    byte           // 原内存数据
	Enabled bool           // 断点指令是否已写入
	Hits    uint64         // 命中次数

	callback Callback
}

// Breakpoints 所有的断点信息
type Breakpoints []Breakpoint

// Len 返回长度
func (b Breakpoints) Len() int {
	return len(b)
}

// Less 检查b[i]是否小于b[j]
func (b Breakpoints) Less(i, j int) bool {
	return b[i].ID < b[j].ID
}

// Swap 交换b[i]和b[j]
func (b Breakpoints) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

// Manager owns the software breakpoints of one process.
//
// A breakpoint moves from installed to hit when its trap fires: the
// original byte goes back, the thread is armed for a single step and the
// callback is scheduled. The single-step trap that follows reinstalls it.
type Manager struct {
	mem     memory.Accessor
	threads ThreadContexts
	sched   Scheduler
	log     *logrus.Entry

	mu      sync.Mutex
	bps     map[memory.Address]*Breakpoint
	pending map[int]*Breakpoint // tid -> breakpoint awaiting its single step
	retired map[memory.Address]bool
}

// NewManager returns a manager patching code through mem and arming
// threads through threads. Callbacks are handed to sched.
func NewManager(mem memory.Accessor, threads ThreadContexts, sched Scheduler) *Manager {
	return &Manager{
		mem:     mem,
		threads: threads,
		sched:   sched,
		log:     logflags.DebuggerLogger(),
		bps:     map[memory.Address]*Breakpoint{},
		pending: map[int]*Breakpoint{},
		retired: map[memory.Address]bool{},
	}
}

// SetBreakpoint 在地址addr处添加断点，命中时调度cb
func (m *Manager) SetBreakpoint(addr memory.Address, site string, cb Callback) (Breakpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bps[addr]; ok {
		return Breakpoint{}, fmt.Errorf("%v: %w", addr, ErrBreakpointExisted)
	}

	orig, err := memory.ReadUint8(m.mem, addr)
	if err != nil {
		return Breakpoint{}, fmt.Errorf("read original byte: %w", err)
	}
	if err := memory.WriteUint8(m.mem, addr, trapInstruction); err != nil {
		return Breakpoint{}, fmt.Errorf("write trap byte: %w", err)
	}

	delete(m.retired, addr)
	bp := &Breakpoint{
		ID:       bpSeqNo.Inc(),
		Addr:     addr,
		Site:     site,
		Orig:     orig,
		Enabled:  true,
		callback: cb,
	}
	m.bps[addr] = bp
	m.log.WithFields(logrus.Fields{"addr": addr, "site": site, "orig": fmt.Sprintf("%#02x", orig)}).Debug("breakpoint set")
	return *bp, nil
}

// ClearBreakpoint 删除addr处的断点
func (m *Manager) ClearBreakpoint(addr memory.Address) (Breakpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked(addr)
}

func (m *Manager) clearLocked(addr memory.Address) (Breakpoint, error) {
	bp, ok := m.bps[addr]
	if !ok {
		return Breakpoint{}, fmt.Errorf("%v: %w", addr, ErrBreakpointNotExisted)
	}
	if bp.Enabled {
		if err := memory.WriteUint8(m.mem, addr, bp.Orig); err != nil {
			return Breakpoint{}, fmt.Errorf("restore original byte: %w", err)
		}
		bp.Enabled = false
	}
	delete(m.bps, addr)
	m.retired[addr] = true
	return *bp, nil
}

// ClearAll 删除所有已添加的断点
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for addr := range m.bps {
		if _, err := m.clearLocked(addr); err != nil {
			m.log.WithError(err).WithField("addr", addr).Warn("clear breakpoint")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// List returns a copy of every breakpoint ordered by ID.
func (m *Manager) List() []Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(Breakpoints, 0, len(m.bps))
	for _, bp := range m.bps {
		out = append(out, *bp)
	}
	sort.Sort(out)
	return out
}

// Retired reports whether addr had a breakpoint that was cleared. A thread
// may still trap there if it reached the trap byte before the clear.
func (m *Manager) Retired(addr memory.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retired[addr]
}

// PendingSteps returns how many threads are armed for a single step.
func (m *Manager) PendingSteps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// HandleBreakpoint handles a breakpoint trap. It returns false when the
// trap is not at one of our breakpoints, or when restoring the original
// instruction or arming the single step failed; the caller then lets the
// OS handle the exception.
func (m *Manager) HandleBreakpoint(ev DebugEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	bp, ok := m.bps[ev.Addr]
	if !ok || !bp.Enabled {
		return false
	}
	log := m.log.WithFields(logrus.Fields{"addr": bp.Addr, "site": bp.Site, "tid": ev.Tid})

	if err := memory.WriteUint8(m.mem, bp.Addr, bp.Orig); err != nil {
		log.WithError(err).Error("restore original byte")
		return false
	}
	bp.Enabled = false

	ctx, err := m.threads.GetThreadContext(ev.Tid)
	if err == nil {
		armed := ctx
		armed.EFlags |= TrapFlag
		err = m.threads.SetThreadContext(ev.Tid, armed)
	}
	if err != nil {
		log.WithError(err).Error("arm single step")
		if werr := memory.WriteUint8(m.mem, bp.Addr, trapInstruction); werr == nil {
			bp.Enabled = true
		}
		return false
	}

	bp.Hits++
	m.pending[ev.Tid] = bp
	breakpointHits.WithLabelValues(bp.Site).Inc()

	if bp.callback != nil {
		ev.Site = bp.Site
		ev.Context = ctx
		if !m.sched.Enqueue(ev, bp.callback) {
			log.Warn("callback dropped, dispatch queue closed")
		}
	}
	log.Debug("breakpoint hit")
	return true
}

// ReinstateBreakpoint rewrites the trap byte of the breakpoint tid stepped
// over. It reports whether there was one to reinstate.
func (m *Manager) ReinstateBreakpoint(tid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	bp, ok := m.pending[tid]
	if !ok {
		return false
	}
	delete(m.pending, tid)

	// cleared while the thread was stepping
	if m.bps[bp.Addr] != bp || bp.Enabled {
		return false
	}
	if err := memory.WriteUint8(m.mem, bp.Addr, trapInstruction); err != nil {
		m.log.WithError(err).WithField("addr", bp.Addr).Error("reinstate breakpoint")
		return false
	}
	bp.Enabled = true
	return true
}

// ClearSingleStep clears the trap flag of tid.
func (m *Manager) ClearSingleStep(tid int) error {
	ctx, err := m.threads.GetThreadContext(tid)
	if err != nil {
		return fmt.Errorf("get thread %d context: %w", tid, err)
	}
	if ctx.EFlags&TrapFlag == 0 {
		return nil
	}
	ctx.EFlags &^= TrapFlag
	if err := m.threads.SetThreadContext(tid, ctx); err != nil {
		return fmt.Errorf("set thread %d context: %w", tid, err)
	}
	return nil
}
