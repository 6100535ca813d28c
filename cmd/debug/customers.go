package debug

import (
	"github.com/spf13/cobra"
)

func (s *DebugSession) customersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "customers",
		Short:   "列出顾客及其订单",
		Aliases: []string{"c"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupState,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if drop, _ := cmd.Flags().GetInt("drop"); drop >= 0 {
				s.sess.State.RemoveCustomer(drop)
			}
			return s.sess.Snapshot().WriteCustomers(cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntP("drop", "d", -1, "先移除指定序号的顾客")
	return cmd
}
