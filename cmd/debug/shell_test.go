package debug

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/hitzhangjie/bs3mem/pkg/config"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object/objecttest"
	"github.com/hitzhangjie/bs3mem/pkg/offsets"
	"github.com/hitzhangjie/bs3mem/pkg/session"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moduleBase = memory.Address(0x00400000)

type idleTracer struct {
	mu   sync.Mutex
	regs map[int]target.Context
}

func (f *idleTracer) WaitForDebugEvent(ctx context.Context) (target.DebugEvent, error) {
	<-ctx.Done()
	return target.DebugEvent{}, ctx.Err()
}

func (f *idleTracer) ContinueDebugEvent(target.DebugEvent, bool) error { return nil }

func (f *idleTracer) GetThreadContext(tid int) (target.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[tid], nil
}

func (f *idleTracer) SetThreadContext(tid int, ctx target.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[tid] = ctx
	return nil
}

func (f *idleTracer) Detach() error { return nil }

func (f *idleTracer) Pid() int { return 1 }

func siteCode(t *testing.T, site offsets.Site) []byte {
	t.Helper()
	code, err := hex.DecodeString(strings.ReplaceAll(strings.ReplaceAll(site.Pattern, "??", "00"), " ", ""))
	require.NoError(t, err)
	return code
}

func newShell(t *testing.T) (*DebugSession, *session.Session, *objecttest.Image, *bytes.Buffer) {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	table, err := session.LoadTable(cfg)
	require.NoError(t, err)
	build, err := table.Build(cfg.Build)
	require.NoError(t, err)

	im := objecttest.New()
	for _, s := range build.Sites {
		im.Map(s.Address(moduleBase).Add(-int64(s.Index)), siteCode(t, s))
	}
	sess, err := session.New(cfg, target.Target{Pid: 1, Exe: cfg.Exe, ModuleBase: moduleBase}, im,
		&idleTracer{regs: map[int]target.Context{}})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	out := &bytes.Buffer{}
	return NewDebugSession(sess, out), sess, im, out
}

func TestBreaksAndClear(t *testing.T) {
	ds, sess, im, out := newShell(t)
	n := len(sess.Manager.List())

	require.NoError(t, ds.Exec("breaks"))
	assert.Contains(t, out.String(), offsets.SiteConveyorSize)

	require.NoError(t, ds.Exec("clear "+offsets.SiteConveyorSize))
	assert.Len(t, sess.Manager.List(), n-1)

	site, ok := sess.Build.Site(offsets.SiteConveyorSize)
	require.True(t, ok)
	b, err := memory.ReadUint8(im, site.Address(moduleBase))
	require.NoError(t, err)
	assert.Equal(t, siteCode(t, site)[site.Index], b)

	err = ds.Exec("clear " + offsets.SiteConveyorSize)
	assert.ErrorIs(t, err, target.ErrBreakpointNotExisted)
}

func TestVerifySeesThroughTraps(t *testing.T) {
	ds, _, _, out := newShell(t)
	require.NoError(t, ds.Exec("verify"))
	assert.NotContains(t, out.String(), "mismatch")
}

func TestDisassSite(t *testing.T) {
	ds, _, _, out := newShell(t)
	require.NoError(t, ds.Exec("disass -n 1 "+offsets.SiteConveyorSize))
	assert.Contains(t, out.String(), "mov")
	assert.NotContains(t, out.String(), "int3")
}

func TestExamineAndSetMem(t *testing.T) {
	ds, _, im, out := newShell(t)
	addr := im.Alloc(16)
	im.MapUint32(addr, 0xdeadbeef)

	require.NoError(t, ds.Exec("x "+addr.String()+" 2"))
	assert.Contains(t, out.String(), "deadbeef 00000000")

	require.NoError(t, ds.Exec("setmem "+addr.String()+" 42"))
	v, err := memory.ReadInt32(im, addr)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	assert.Error(t, ds.Exec("x nowhere"))
}

func TestItemsAndInc(t *testing.T) {
	ds, sess, im, out := newShell(t)
	item := im.Simple(3, 3)

	require.NoError(t, ds.Exec("add "+item.String()))
	require.NoError(t, ds.Exec("items"))
	assert.Contains(t, out.String(), "simple")

	require.NoError(t, ds.Exec("inc"))
	got, ok := sess.State.GetConveyorItems()[0].Simple()
	require.True(t, ok)
	id, err := got.ItemID(im)
	require.NoError(t, err)
	assert.Equal(t, int32(4), id)

	require.NoError(t, ds.Exec("rm "+item.String()))
	assert.Empty(t, sess.State.GetConveyorItems())
	assert.Error(t, ds.Exec("rm "+item.String()))
}

func TestFlagsResetBetweenLines(t *testing.T) {
	ds, _, im, out := newShell(t)
	addr := im.Alloc(32)

	require.NoError(t, ds.Exec("chain -w 2 "+addr.String()+" 1"))
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), " "))

	out.Reset()
	require.NoError(t, ds.Exec("chain "+addr.String()+" 1"))
	assert.Equal(t, 8, strings.Count(strings.TrimSpace(out.String()), " "))
}

func TestExecErrors(t *testing.T) {
	ds, _, _, _ := newShell(t)
	assert.NoError(t, ds.Exec("   "))
	assert.Error(t, ds.Exec("nosuchcommand"))
	assert.Error(t, ds.Exec("x `date`"))
}

func TestCompleter(t *testing.T) {
	ds, _, _, _ := newShell(t)
	assert.Equal(t, []string{"breakpoints", "breaks", "bs"}, ds.completer("b"))
	assert.Empty(t, ds.completer("x 0x"))
}

func TestHelpGroups(t *testing.T) {
	ds, _, _, out := newShell(t)
	require.NoError(t, ds.Exec("help"))
	for _, group := range []string{"- [state]", "- [breaks]", "- [memory]", "- [other]"} {
		assert.Contains(t, out.String(), group)
	}
}

func TestExitStops(t *testing.T) {
	ds, _, _, _ := newShell(t)
	require.NoError(t, ds.Exec("exit"))
	select {
	case <-ds.done:
	default:
		t.Fatal("exit did not stop the shell")
	}
	ds.Stop()
}

func TestModuleWithoutHeaders(t *testing.T) {
	ds, _, _, _ := newShell(t)
	assert.Error(t, ds.Exec("module"))
}

func TestProbeStartingAtContainer(t *testing.T) {
	ds, _, im, out := newShell(t)
	c := im.Complex(im.Simple(1, 0))

	require.NoError(t, ds.Exec("probe "+c.String()))
	assert.Equal(t, "found "+c.String()+"\n", out.String())

	out.Reset()
	holder := im.Alloc(64)
	im.MapUint32(holder.Add(4), uint32(c))
	require.NoError(t, ds.Exec("probe "+holder.String()))
	assert.Contains(t, out.String(), holder.String()+"[1] -> "+c.String())
	assert.Contains(t, out.String(), "found "+c.String())
}

func TestDiagnosticFlagsMustBePositive(t *testing.T) {
	ds, _, im, _ := newShell(t)
	addr := im.Alloc(32)

	assert.Error(t, ds.Exec("chain -w -1 "+addr.String()))
	assert.Error(t, ds.Exec("chain -w 0 "+addr.String()))
	assert.Error(t, ds.Exec("probe -d -1 "+addr.String()))
	assert.Error(t, ds.Exec("probe -w -4 "+addr.String()))
}

func TestExecRecoversPanic(t *testing.T) {
	ds, _, _, _ := newShell(t)
	ds.root.AddCommand(&cobra.Command{
		Use: "crash",
		RunE: func(*cobra.Command, []string) error {
			var path []int
			_ = path[len(path)-1]
			return nil
		},
	})
	err := ds.Exec("crash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.NoError(t, ds.Exec("state"))
}
