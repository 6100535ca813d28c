/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hitzhangjie/bs3mem/pkg/offsets"
	"github.com/hitzhangjie/bs3mem/pkg/session"
	"github.com/spf13/cobra"
)

// offsetsCmd represents the offsets command
var offsetsCmd = &cobra.Command{
	Use:   "offsets [build]",
	Short: "列出各游戏版本的断点位置",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		table, err := session.LoadTable(cfg)
		if err != nil {
			return err
		}

		ids := table.IDs()
		if len(args) == 1 {
			ids = args
		}
		for _, id := range ids {
			b, err := table.Build(id)
			if err != nil {
				return err
			}
			if err := writeBuild(cmd.OutOrStdout(), b); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(offsetsCmd)
}

func writeBuild(w io.Writer, b offsets.Build) error {
	fmt.Fprintf(w, "build %s (%s)\n", b.ID, b.Module)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range b.Sites {
		fmt.Fprintf(tw, "  %s\t%#x\t%d\t%s\n", s.Name, s.Offset, s.Index, s.Pattern)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
