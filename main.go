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
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/hitzhangjie/bs3mem/cmd"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processSignals(cancel)
	cmd.Execute(ctx)
}

func processSignals(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, notifySignals...)

	stopping := false
	for sig := range ch {
		if sig == preemptSignal {
			// 非协作式抢占信号，忽略这个信号
			continue
		}
		// 第一次收到信号时恢复断点并 detach，再次收到则直接退出
		if stopping {
			os.Exit(1)
		}
		stopping = true
		cancel()
	}
}
