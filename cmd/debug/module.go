package debug

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (s *DebugSession) moduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "module",
		Short: "显示游戏模块的节区信息",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupMemory,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			mi := s.sess.Module
			if mi == nil {
				return errors.New("module headers not available")
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "base %v, entry %v, linked %s\n", mi.Base, mi.Base.Add(int64(mi.EntryPoint)),
				time.Unix(int64(mi.TimeDateStamp), 0).UTC().Format(time.RFC3339))

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			for _, sec := range mi.Sections {
				flag := ""
				if sec.Executable() {
					flag = "x"
				}
				fmt.Fprintf(tw, "%s\t%v\t%#x\t%s\n", sec.Name, mi.Base.Add(int64(sec.VirtualAddress)), sec.VirtualSize, flag)
			}
			return tw.Flush()
		},
	}
}
