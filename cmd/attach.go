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
	"strconv"

	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/spf13/cobra"
)

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "读取指定进程的游戏状态",
	Long:  `读取指定进程的游戏状态，进程号由参数给出，不再按可执行文件名查找`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("参数错误")
		}

		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return fmt.Errorf("%s invalid pid", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tgt, err := target.AcquirePid(pid, cfg.Exe)
		if err != nil {
			return err
		}
		return runSession(cmd, cfg, tgt)
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
