package debug

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/hitzhangjie/bs3mem/pkg/offsets"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/spf13/cobra"
)

func (s *DebugSession) breaksCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "breaks",
		Short:   "列出所有断点",
		Long:    "列出所有断点",
		Aliases: []string{"bs", "breakpoints"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupBreakpoints,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "id\taddr\tsite\torig\thits\n")
			for _, b := range s.sess.Manager.List() {
				fmt.Fprintf(tw, "%d\t%v\t%s\t%#02x\t%d\n", b.ID, b.Addr, b.Site, b.Orig, b.Hits)
			}
			for _, res := range s.sess.Sites {
				if res.Err != nil {
					fmt.Fprintf(tw, "-\t%v\t%s\t\t%v\n", res.Addr, res.Site.Name, res.Err)
				}
			}
			return tw.Flush()
		},
	}
}

func (s *DebugSession) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <id|site|addr>",
		Short: "清除指定断点，恢复原指令",
		Long:  `清除指定断点，恢复原指令. 断点可以用编号、位置名称或地址指定`,
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupBreakpoints,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: clear <id|site|addr>")
			}

			// 查找断点
			var brk *target.Breakpoint
			id, idErr := strconv.ParseUint(args[0], 10, 64)
			for _, b := range s.sess.Manager.List() {
				if (idErr == nil && b.ID == id) || b.Site == args[0] {
					brk = &b
					break
				}
			}
			if brk == nil {
				addr, err := parseAddr(args[0])
				if err != nil {
					return target.ErrBreakpointNotExisted
				}
				brk = &target.Breakpoint{Addr: addr}
			}

			// 移除断点
			b, err := s.sess.Manager.ClearBreakpoint(brk.Addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "breakpoint %d at %v cleared\n", b.ID, b.Addr)
			return nil
		},
	}
}

func (s *DebugSession) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "校验各断点位置的指令字节",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupBreakpoints,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			r := target.Unpatched(s.sess.Mem, s.sess.Manager.List())
			base := s.sess.Target.ModuleBase

			var errs []error
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, site := range s.sess.Build.Sites {
				status := "ok"
				if err := offsets.Verify(r, base, site); err != nil {
					status = err.Error()
					errs = append(errs, err)
				}
				fmt.Fprintf(tw, "%s\t%v\t%s\n", site.Name, site.Address(base), status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d sites do not match build %s", len(errs), len(s.sess.Build.Sites), s.sess.Build.ID)
			}
			return nil
		},
	}
}
