package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/lk2023060901/danmu-garden-chat/application"
	"github.com/lk2023060901/danmu-garden-chat/pkg/version"
)

// 启动方式：
//
//	go run ./cmd/chat-server --config ./config.yaml
//
// 也可以用 CHAT_ 前缀的环境变量覆盖单项配置，例如 CHAT_SERVER_ADDR=:6000。
func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" {
			fmt.Println(version.String())
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.New().Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chat-server: %+v\n", err)
		os.Exit(1)
	}
}
