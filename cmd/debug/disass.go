package debug

import (
	"errors"

	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/spf13/cobra"
)

func (s *DebugSession) disassCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disass <site|addr>",
		Short: "反汇编机器指令",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupMemory,
		},
		Aliases: []string{"dis", "disassemble"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: disass <site|addr>")
			}
			var (
				max, _    = cmd.Flags().GetInt("max")
				syntax, _ = cmd.Flags().GetString("syntax")
			)
			addr, err := s.location(args[0])
			if err != nil {
				return err
			}

			// 断点处的 0xcc 按原指令显示
			insts, err := target.Disassemble(s.sess.Mem, addr, max, syntax, s.sess.Manager.List())
			if err != nil {
				return err
			}
			return target.PrintInstructions(cmd.OutOrStdout(), insts)
		},
	}
	cmd.Flags().IntP("max", "n", 10, "反汇编指令数量")
	cmd.Flags().StringP("syntax", "s", "intel", "反汇编指令语法，支持：go, gnu, intel")
	return cmd
}
