package hooks

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/hitzhangjie/bs3mem/pkg/gamestate"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/hitzhangjie/bs3mem/pkg/object/objecttest"
	"github.com/hitzhangjie/bs3mem/pkg/offsets"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moduleBase = memory.Address(0x00400000)

func newHooks(t *testing.T) (*Hooks, *gamestate.State, *objecttest.Image) {
	t.Helper()
	im := objecttest.New()
	m, err := object.NewModel(im)
	require.NoError(t, err)
	st := gamestate.New(m)
	return New(st), st, im
}

func event(site string, ctx target.Context) target.DebugEvent {
	return target.DebugEvent{Kind: target.EventException, Code: target.ExceptionBreakpoint, Site: site, Context: ctx}
}

func itemIDs(t *testing.T, im *objecttest.Image, items []object.Item) []int32 {
	t.Helper()
	var ids []int32
	for _, it := range items {
		s, ok := it.Simple()
		require.True(t, ok)
		id, err := s.ItemID(im)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestBBPercent(t *testing.T) {
	h, st, im := newHooks(t)

	addr := im.Alloc(4)
	im.MapFloat32(addr, 0.75)
	h.BBPercent(event(offsets.SiteBBPercent, target.Context{Ecx: uint32(addr)}))
	assert.Equal(t, float32(0.75), st.BBPercent())
	assert.True(t, st.IsDirty())

	// unreadable, keep the old value
	h.BBPercent(event(offsets.SiteBBPercent, target.Context{Ecx: 0x10}))
	assert.Equal(t, float32(0.75), st.BBPercent())
}

func TestConveyorSize(t *testing.T) {
	h, st, im := newHooks(t)

	obj := im.Alloc(0x110)
	im.MapUint32(obj.Add(0x10C), 4)
	h.ConveyorSize(event(offsets.SiteConveyorSize, target.Context{Edi: uint32(obj)}))
	assert.Equal(t, int32(4), st.NumConveyorItems())
}

func TestConveyorAddAndRemove(t *testing.T) {
	h, st, im := newHooks(t)
	st.SetNumConveyorItems(3)

	_, nodes := im.Ring(im.Simple(10, 1), im.Simple(20, 2), im.Simple(30, 3))

	h.ConveyorAdd(event(offsets.SiteConveyorAdd, target.Context{Edx: uint32(nodes[2])}))
	assert.Equal(t, []int32{10, 20, 30}, itemIDs(t, im, st.GetConveyorItems()))

	st.SetNumConveyorItems(2)
	_, nodes = im.Ring(im.Simple(40, 4), im.Simple(50, 5))
	edi := nodes[0].Add(-offConveyorCount)
	h.ConveyorRemove(event(offsets.SiteConveyorRemove, target.Context{Edi: uint32(edi)}))
	assert.Equal(t, []int32{40, 50}, itemIDs(t, im, st.GetConveyorItems()))
}

func TestConveyorBatchTooShort(t *testing.T) {
	h, st, im := newHooks(t)
	st.SetNumConveyorItems(3)
	_, nodes := im.Ring(im.Simple(10, 1), im.Simple(20, 2), im.Simple(30, 3))
	h.ConveyorAdd(event(offsets.SiteConveyorAdd, target.Context{Edx: uint32(nodes[0])}))
	require.Len(t, st.GetConveyorItems(), 3)

	// the game expects five items, one node is not enough
	st.SetNumConveyorItems(5)
	_, nodes = im.Ring(im.Simple(60, 6))
	h.ConveyorAdd(event(offsets.SiteConveyorAdd, target.Context{Edx: uint32(nodes[0])}))
	assert.Equal(t, []int32{10, 20, 30}, itemIDs(t, im, st.GetConveyorItems()))
}

func TestCustomer(t *testing.T) {
	h, st, im := newHooks(t)

	c := im.Customer(7)
	h.Customer(event(offsets.SiteCustomer, target.Context{Ebx: uint32(c)}))
	h.Customer(event(offsets.SiteCustomer, target.Context{Ebx: uint32(c)}))
	h.Customer(event(offsets.SiteCustomer, target.Context{Ebx: uint32(im.Simple(1, 1))}))

	customers := st.GetCustomers()
	require.Len(t, customers, 1)
	assert.Equal(t, c, customers[0].Addr)
}

func TestCallbackForEverySite(t *testing.T) {
	h, _, _ := newHooks(t)
	table, err := offsets.Builtin()
	require.NoError(t, err)
	for _, id := range table.IDs() {
		b, err := table.Build(id)
		require.NoError(t, err)
		for _, s := range b.Sites {
			_, ok := h.Callback(s.Name)
			assert.True(t, ok, "%s %s", id, s.Name)
		}
	}
	_, ok := h.Callback("nope")
	assert.False(t, ok)
}

// mapSiteCode writes code matching the site's pattern into the image.
func mapSiteCode(t *testing.T, im *objecttest.Image, site offsets.Site) {
	t.Helper()
	code, err := hex.DecodeString(strings.ReplaceAll(strings.ReplaceAll(site.Pattern, "??", "00"), " ", ""))
	require.NoError(t, err)
	im.Map(site.Address(moduleBase).Add(-int64(site.Index)), code)
}

func TestInstall(t *testing.T) {
	h, _, im := newHooks(t)
	table, err := offsets.Builtin()
	require.NoError(t, err)
	build, err := table.Build("0.5.8a")
	require.NoError(t, err)

	for _, s := range build.Sites {
		mapSiteCode(t, im, s)
	}
	mgr := target.NewManager(im, nil, nil)

	results, err := Install(mgr, build, moduleBase, h, true)
	require.NoError(t, err)
	require.Len(t, results, len(build.Sites))
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, res.Site.Name, res.Breakpoint.Site)
		b, err := memory.ReadUint8(im, res.Addr)
		require.NoError(t, err)
		assert.Equal(t, byte(0xcc), b)
	}
	assert.Len(t, mgr.List(), len(build.Sites))
}

func TestInstallSkipsMismatchedSite(t *testing.T) {
	h, _, im := newHooks(t)
	table, err := offsets.Builtin()
	require.NoError(t, err)
	build, err := table.Build("0.5.7d")
	require.NoError(t, err)

	for _, s := range build.Sites {
		mapSiteCode(t, im, s)
	}
	bad, ok := build.Site(offsets.SiteCustomer)
	require.True(t, ok)
	require.NoError(t, memory.WriteUint8(im, bad.Address(moduleBase), 0x90))

	mgr := target.NewManager(im, nil, nil)
	results, err := Install(mgr, build, moduleBase, h, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, offsets.ErrPatternMismatch))
	assert.Len(t, results, len(build.Sites))
	assert.Len(t, mgr.List(), len(build.Sites)-1)

	b, err := memory.ReadUint8(im, bad.Address(moduleBase))
	require.NoError(t, err)
	assert.Equal(t, byte(0x90), b)

	// without verification the site is patched anyway
	_, err = Install(target.NewManager(im, nil, nil), offsets.Build{Sites: []offsets.Site{bad}}, moduleBase, h, false)
	assert.NoError(t, err)
}
