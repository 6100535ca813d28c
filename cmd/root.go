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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/hitzhangjie/bs3mem/pkg/config"
	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logFlag   bool
	logOutput string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bs3mem",
	Short: "BurgerShop3 游戏状态读取工具",
	Long: `bs3mem attaches to a running BurgerShop3 process as a debugger, plants
breakpoints at known code sites and keeps a decoded copy of the conveyor,
the customers and the BurgerBot progress.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logflags.Setup(logFlag, logOutput); err != nil {
			return err
		}
		if addr := viper.GetString("metrics-addr"); addr != "" {
			go serveMetrics(addr)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bs3mem.yaml)")
	flags.BoolVar(&logFlag, "log", false, "打开调试日志")
	flags.StringVar(&logOutput, "log-output", "", "日志分层，逗号分隔：debugger,dispatch,state,hooks,memory,all")

	flags.String("exe", "", "游戏进程的可执行文件名")
	flags.String("build", "", "游戏版本，决定断点位置")
	flags.String("offsets", "", "替换内置偏移表的 YAML 文件")
	flags.String("metrics-addr", "", "prometheus 指标监听地址，为空则不开启")
	flags.Bool("verify-sites", true, "安装断点前校验指令字节")
	flags.Bool("headless", false, "不启动交互终端，定时输出游戏状态")
	flags.Duration("poll-interval", 0, "headless 模式下检查状态的间隔")
	for _, name := range []string{"exe", "build", "offsets", "metrics-addr", "verify-sites", "headless", "poll-interval"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".bs3mem" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".bs3mem")
	}

	viper.SetEnvPrefix("bs3mem")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		logflags.DebuggerLogger().Debugf("using config file: %s", viper.ConfigFileUsed())
	} else if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the settings collected by viper.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logflags.DebuggerLogger().WithError(err).Error("metrics server stopped")
	}
}
