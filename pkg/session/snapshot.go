package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
)

// ItemView 物品的一次读取结果
type ItemView struct {
	Kind          object.Kind
	Addr          memory.Address
	ItemID        int32
	IngredientID  int32
	X, Y          float32
	ConveyorIndex int32
	Sub           []object.SimpleFields // contents of a complex item
	Err           error
}

// CustomerView 顾客的一次读取结果
type CustomerView struct {
	Addr   memory.Address
	ID     int32
	Orders []object.OrderEntry
	Err    error
}

// Snapshot is a decoded copy of the game state.
type Snapshot struct {
	BBPercent        float32
	NumConveyorItems int32
	Items            []ItemView
	Customers        []CustomerView
}

// Snapshot sorts the conveyor and reads every tracked object.
func (s *Session) Snapshot() Snapshot {
	s.State.SortConveyorItems()
	snap := Snapshot{
		BBPercent:        s.State.BBPercent(),
		NumConveyorItems: s.State.NumConveyorItems(),
	}
	for _, it := range s.State.GetConveyorItems() {
		snap.Items = append(snap.Items, readItem(s.Mem, it))
	}
	for _, c := range s.State.GetCustomers() {
		v := CustomerView{Addr: c.Addr}
		if v.ID, v.Err = c.ID(s.Mem); v.Err == nil {
			v.Orders, v.Err = c.Orders(s.Mem)
		}
		snap.Customers = append(snap.Customers, v)
	}
	return snap
}

func readItem(r memory.Reader, it object.Item) ItemView {
	v := ItemView{Kind: it.Kind, Addr: it.Addr}
	switch it.Kind {
	case object.KindSimple:
		f, err := object.Simple{Addr: it.Addr}.Read(r)
		if err != nil {
			v.Err = err
			return v
		}
		v.ItemID, v.IngredientID = f.ItemID, f.IngredientID
		v.X, v.Y, v.ConveyorIndex = f.X, f.Y, f.ConveyorIndex
	case object.KindComplex:
		c := object.Complex{Addr: it.Addr}
		if v.X, v.Y, v.Err = c.Position(r); v.Err != nil {
			return v
		}
		if v.ConveyorIndex, v.Err = c.ConveyorIndex(r); v.Err != nil {
			return v
		}
		subs, err := c.SubItems(r)
		if err != nil {
			v.Err = err
			return v
		}
		for _, sub := range subs {
			f, err := sub.Read(r)
			if err != nil {
				v.Err = err
				return v
			}
			v.Sub = append(v.Sub, f)
		}
	}
	return v
}

// WriteItems prints the conveyor as a table.
func (snap Snapshot) WriteItems(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\taddr\tkind\tindex\titem\tingredient\tpos\tcontents\n")
	for i, v := range snap.Items {
		if v.Err != nil {
			fmt.Fprintf(tw, "%d\t%v\t%v\t\t\t\t\t%v\n", i, v.Addr, v.Kind, v.Err)
			continue
		}
		var contents []string
		for _, f := range v.Sub {
			contents = append(contents, fmt.Sprintf("%d/%d", f.ItemID, f.IngredientID))
		}
		fmt.Fprintf(tw, "%d\t%v\t%v\t%d\t%d\t%d\t(%.1f, %.1f)\t%s\n",
			i, v.Addr, v.Kind, v.ConveyorIndex, v.ItemID, v.IngredientID, v.X, v.Y, strings.Join(contents, " "))
	}
	return tw.Flush()
}

// WriteCustomers prints the customers and their pending orders.
func (snap Snapshot) WriteCustomers(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\taddr\tid\torders\n")
	for i, c := range snap.Customers {
		if c.Err != nil {
			fmt.Fprintf(tw, "%d\t%v\t\t%v\n", i, c.Addr, c.Err)
			continue
		}
		var orders []string
		for _, o := range c.Orders {
			if o.Pending() {
				orders = append(orders, fmt.Sprintf("%v x%d", o.Item, o.NumCopies-o.NumComplete))
			}
		}
		fmt.Fprintf(tw, "%d\t%v\t%d\t%s\n", i, c.Addr, c.ID, strings.Join(orders, ", "))
	}
	return tw.Flush()
}

// Consume calls fn with a fresh snapshot whenever the state turns dirty,
// checking every interval. The flag is cleared before the snapshot is
// taken, so a change landing while fn runs is delivered on a later tick.
// It returns when ctx is done or the event loop has stopped.
func (s *Session) Consume(ctx context.Context, interval time.Duration, fn func(Snapshot)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := s.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return s.Err()
		case <-ticker.C:
			s.State.CheckItemsDirty()
			if !s.State.TakeDirty() {
				continue
			}
			fn(s.Snapshot())
		}
	}
}
