package debug

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const syncTimeout = time.Second

func (s *DebugSession) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "state",
		Short:   "显示标量状态",
		Aliases: []string{"st"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		Run: func(cmd *cobra.Command, args []string) {
			st := s.sess.State
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "target:      %v\n", s.sess.Target)
			fmt.Fprintf(w, "build:       %s\n", s.sess.Build.ID)
			fmt.Fprintf(w, "bb percent:  %.2f\n", st.BBPercent())
			fmt.Fprintf(w, "conveyor:    %d expected, %d tracked\n", st.NumConveyorItems(), len(st.GetConveyorItems()))
			fmt.Fprintf(w, "customers:   %d\n", len(st.GetCustomers()))
			fmt.Fprintf(w, "dirty:       %v\n", st.IsDirty())
			fmt.Fprintf(w, "needs sort:  %v\n", st.NeedsSorting())
			fmt.Fprintf(w, "queue depth: %d\n", s.sess.Queue.Len())
		},
	}
}

func (s *DebugSession) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "重新检查物品变化并清除脏标记",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// let queued callbacks land first
			ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
			defer cancel()
			if err := s.sess.Queue.Sync(ctx); err != nil {
				return err
			}

			dirty := s.sess.State.CheckItemsDirty()
			s.sess.State.Update()
			fmt.Fprintf(cmd.OutOrStdout(), "dirty: %v\n", dirty)
			return nil
		},
	}
}

func (s *DebugSession) sortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sort",
		Short: "按传送带位置排序物品",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		Run: func(cmd *cobra.Command, args []string) {
			s.sess.State.SortConveyorItems()
		},
	}
}

func (s *DebugSession) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "清空已跟踪的物品和顾客",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		Run: func(cmd *cobra.Command, args []string) {
			s.sess.State.Reset()
		},
	}
}
