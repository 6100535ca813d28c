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
	"errors"
	"fmt"
	"os"

	"github.com/hitzhangjie/bs3mem/cmd/debug"
	"github.com/hitzhangjie/bs3mem/pkg/config"
	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/session"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "查找游戏进程并开始读取状态",
	Long: `查找游戏进程并开始读取状态.

The process is located by its executable name. When the game is not running
bs3mem prints a notice and exits successfully.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		tgt, err := target.Acquire(cfg.Exe)
		if errors.Is(err, target.ErrProcessNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is not running\n", cfg.Exe)
			return nil
		}
		if err != nil {
			return err
		}
		return runSession(cmd, cfg, tgt)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runSession attaches to tgt and serves the state until the user quits, the
// game exits or the command's context is cancelled.
func runSession(cmd *cobra.Command, cfg *config.Config, tgt target.Target) error {
	log := logflags.DebuggerLogger().WithField("pid", tgt.Pid)

	sess, err := session.Open(cfg, tgt)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.WithError(err).Warn("close session")
		}
	}()
	for _, res := range sess.Sites {
		if res.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "site %s at %v not installed: %v\n", res.Site.Name, res.Addr, res.Err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "attached to %v, build %s, %d breakpoints\n", tgt, sess.Build.ID, len(sess.Manager.List()))

	ctx := cmd.Context()
	sess.Start(ctx)

	if cfg.Headless {
		err := sess.Consume(ctx, cfg.PollInterval, func(snap session.Snapshot) {
			log.WithField("bb", snap.BBPercent).Infof("%d/%d items, %d customers",
				len(snap.Items), snap.NumConveyorItems, len(snap.Customers))
			snap.WriteItems(cmd.OutOrStdout())
		})
		switch {
		case errors.Is(err, target.ErrProcessExited):
			fmt.Fprintln(cmd.OutOrStdout(), "game exited")
			return nil
		case ctx.Err() != nil:
			return nil
		}
		return err
	}

	ds := debug.NewDebugSession(sess, cmd.OutOrStdout())
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		select {
		case <-quit:
		case <-ctx.Done():
			// interrupted, give the terminal back before leaving
			ds.Close()
			if err := sess.Close(); err != nil {
				log.WithError(err).Warn("close session")
			}
			os.Exit(0)
		case <-sess.Done():
			fmt.Fprintln(cmd.OutOrStdout(), "event loop stopped, press enter to quit")
			ds.Stop()
		}
	}()
	return ds.Start()
}
