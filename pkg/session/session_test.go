package session

import (
	"context"
	"debug/pe"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitzhangjie/bs3mem/pkg/config"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/hitzhangjie/bs3mem/pkg/object/objecttest"
	"github.com/hitzhangjie/bs3mem/pkg/offsets"
	"github.com/hitzhangjie/bs3mem/pkg/symbol"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	moduleBase = memory.Address(0x00400000)
	tid        = 11
)

// scriptTracer plays a fixed list of events, then waits for cancellation.
type scriptTracer struct {
	mu       sync.Mutex
	events   []target.DebugEvent
	regs     map[int]target.Context
	detached bool
}

func (f *scriptTracer) WaitForDebugEvent(ctx context.Context) (target.DebugEvent, error) {
	f.mu.Lock()
	if len(f.events) > 0 {
		ev := f.events[0]
		f.events = f.events[1:]
		f.mu.Unlock()
		return ev, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return target.DebugEvent{}, ctx.Err()
}

func (f *scriptTracer) ContinueDebugEvent(target.DebugEvent, bool) error { return nil }

func (f *scriptTracer) GetThreadContext(tid int) (target.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[tid], nil
}

func (f *scriptTracer) SetThreadContext(tid int, ctx target.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[tid] = ctx
	return nil
}

func (f *scriptTracer) Detach() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = true
	return nil
}

func (f *scriptTracer) Pid() int { return 1 }

func (f *scriptTracer) isDetached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func siteCode(t *testing.T, site offsets.Site) []byte {
	t.Helper()
	code, err := hex.DecodeString(strings.ReplaceAll(strings.ReplaceAll(site.Pattern, "??", "00"), " ", ""))
	require.NoError(t, err)
	return code
}

// gameImage maps the code of every site of build and a conveyor object
// reporting four items.
func gameImage(t *testing.T, build offsets.Build) (*objecttest.Image, memory.Address) {
	t.Helper()
	im := objecttest.New()
	for _, s := range build.Sites {
		im.Map(s.Address(moduleBase).Add(-int64(s.Index)), siteCode(t, s))
	}
	conveyor := im.Alloc(0x110)
	im.MapUint32(conveyor.Add(0x10C), 4)
	return im, conveyor
}

func TestSessionEndToEnd(t *testing.T) {
	cfg := defaultConfig(t)
	table, err := LoadTable(cfg)
	require.NoError(t, err)
	build, err := table.Build(cfg.Build)
	require.NoError(t, err)

	im, conveyor := gameImage(t, build)
	size, ok := build.Site(offsets.SiteConveyorSize)
	require.True(t, ok)
	addr := size.Address(moduleBase)

	tracer := &scriptTracer{
		regs: map[int]target.Context{tid: {Eip: uint32(addr) + 1, Edi: uint32(conveyor)}},
		events: []target.DebugEvent{
			{Kind: target.EventException, Tid: tid, Code: target.ExceptionWx86Breakpoint, Addr: addr},
			{Kind: target.EventException, Tid: tid, Code: target.ExceptionWx86SingleStep, Addr: addr.Add(6)},
		},
	}

	s, err := New(cfg, target.Target{Pid: 1, Exe: cfg.Exe, ModuleBase: moduleBase}, im, tracer)
	require.NoError(t, err)
	require.Len(t, s.Manager.List(), len(build.Sites))

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return s.State.NumConveyorItems() == 4
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.State.IsDirty())

	require.NoError(t, s.Close())
	<-s.Done()
	assert.NoError(t, s.Err())
	assert.True(t, tracer.isDetached())

	for _, site := range build.Sites {
		got, err := im.ReadMemory(site.Address(moduleBase), 1)
		require.NoError(t, err)
		assert.Equal(t, siteCode(t, site)[site.Index], got[0], site.Name)
	}
}

func TestSessionConsume(t *testing.T) {
	cfg := defaultConfig(t)
	table, err := LoadTable(cfg)
	require.NoError(t, err)
	build, err := table.Build(cfg.Build)
	require.NoError(t, err)
	im, _ := gameImage(t, build)

	tracer := &scriptTracer{regs: map[int]target.Context{}}
	s, err := New(cfg, target.Target{Pid: 1, ModuleBase: moduleBase}, im, tracer)
	require.NoError(t, err)
	defer s.Close()

	_, nodes := im.Ring(im.Simple(10, 1), im.Simple(20, 2))
	s.State.SetNumConveyorItems(2)
	require.True(t, s.State.AcceptConveyorBatch(mustItems(t, s, nodes[0])))

	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got Snapshot
	err = s.Consume(ctx, time.Millisecond, func(snap Snapshot) {
		got = snap
		cancel()
	})
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, got.Items, 2)
	assert.Equal(t, int32(2), got.NumConveyorItems)
	assert.False(t, s.State.IsDirty())

	var sb strings.Builder
	require.NoError(t, got.WriteItems(&sb))
	assert.Contains(t, sb.String(), "simple")
}

func TestSessionConsumeKeepsLateChanges(t *testing.T) {
	cfg := defaultConfig(t)
	table, err := LoadTable(cfg)
	require.NoError(t, err)
	build, err := table.Build(cfg.Build)
	require.NoError(t, err)
	im, _ := gameImage(t, build)

	s, err := New(cfg, target.Target{Pid: 1, ModuleBase: moduleBase}, im, &scriptTracer{regs: map[int]target.Context{}})
	require.NoError(t, err)
	defer s.Close()
	s.State.SetNumConveyorItems(1)
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var seen []int32
	err = s.Consume(ctx, time.Millisecond, func(snap Snapshot) {
		seen = append(seen, snap.NumConveyorItems)
		if len(seen) == 1 {
			// a hook firing while the consumer is busy
			s.State.SetNumConveyorItems(2)
			return
		}
		cancel()
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []int32{1, 2}, seen)
	assert.False(t, s.State.IsDirty())
}

func mustItems(t *testing.T, s *Session, start memory.Address) []object.Item {
	t.Helper()
	items, _, err := s.Model.ConveyorFrom(start)
	require.NoError(t, err)
	return items
}

func TestSessionRejectsBuildWithoutCode(t *testing.T) {
	cfg := defaultConfig(t)
	tracer := &scriptTracer{regs: map[int]target.Context{}}

	// nothing mapped, every site fails verification
	_, err := New(cfg, target.Target{Pid: 1, ModuleBase: moduleBase}, objecttest.New(), tracer)
	assert.True(t, errors.Is(err, ErrNoSites))

	cfg.Build = "0.1"
	_, err = New(cfg, target.Target{Pid: 1, ModuleBase: moduleBase}, objecttest.New(), tracer)
	assert.True(t, errors.Is(err, offsets.ErrUnknownBuild))
}

// mapHeaders maps PE headers whose only executable section spans
// [0x1000, 0x1000+textSize).
func mapHeaders(im *objecttest.Image, textSize uint32) {
	buf := make([]byte, 0x200)
	le := binary.LittleEndian
	copy(buf, "MZ")
	le.PutUint32(buf[0x3c:], 0x40)
	copy(buf[0x40:], "PE\x00\x00")
	le.PutUint16(buf[0x44:], pe.IMAGE_FILE_MACHINE_I386)
	le.PutUint16(buf[0x46:], 1)
	le.PutUint16(buf[0x54:], 96)
	le.PutUint16(buf[0x58:], 0x10b)

	sh := buf[0xb8:]
	copy(sh, ".text")
	le.PutUint32(sh[8:], textSize)
	le.PutUint32(sh[12:], 0x1000)
	le.PutUint32(sh[36:], pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE)
	im.Map(moduleBase, buf)
}

func TestSessionSkipsSitesOutsideCode(t *testing.T) {
	cfg := defaultConfig(t)
	table, err := LoadTable(cfg)
	require.NoError(t, err)
	build, err := table.Build(cfg.Build)
	require.NoError(t, err)
	im, _ := gameImage(t, build)
	mapHeaders(im, 0x60000)

	s, err := New(cfg, target.Target{Pid: 1, ModuleBase: moduleBase}, im, &scriptTracer{regs: map[int]target.Context{}})
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.Module)
	assert.Len(t, s.Manager.List(), len(build.Sites)-1)
	var rejected []string
	for _, res := range s.Sites {
		if res.Err != nil {
			assert.True(t, errors.Is(res.Err, symbol.ErrNotCode))
			rejected = append(rejected, res.Site.Name)
		}
	}
	assert.Equal(t, []string{offsets.SiteBBPercent}, rejected)
}
