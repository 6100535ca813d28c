package debug

import (
	"github.com/spf13/cobra"
)

func (s *DebugSession) exitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "exit",
		Short:   "恢复断点、detach 并退出",
		Aliases: []string{"quit", "q"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupOthers,
		},
		Run: func(cmd *cobra.Command, args []string) {
			s.Stop()
		},
	}
}
