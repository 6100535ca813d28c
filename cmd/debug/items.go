package debug

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (s *DebugSession) itemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "items",
		Short:   "列出传送带上的物品",
		Aliases: []string{"i"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := s.sess.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "%d items, %d expected\n", len(snap.Items), snap.NumConveyorItems)
			return snap.WriteItems(cmd.OutOrStdout())
		},
	}
}

func (s *DebugSession) incCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inc",
		Short: "第一个物品的编号加一",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.sess.State.IncrementFirstItem()
		},
	}
}

func (s *DebugSession) decCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dec",
		Short: "第一个物品的编号减一",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.sess.State.DecrementFirstItem()
		},
	}
}

func (s *DebugSession) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <addr>",
		Short: "按地址跟踪一个物品",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: add <addr>")
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			if !s.sess.State.AddItemFromAddress(addr) {
				return fmt.Errorf("%v is not an item", addr)
			}
			return nil
		},
	}
}

func (s *DebugSession) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <addr>",
		Short:   "按地址移除一个物品",
		Aliases: []string{"rm"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: remove <addr>")
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			if !s.sess.State.RemoveItemFromAddress(addr) {
				return fmt.Errorf("no tracked item at %v", addr)
			}
			return nil
		},
	}
}
