package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/danmuck/lotteryd/internal/logging"
	"github.com/danmuck/lotteryd/internal/server"
	"github.com/danmuck/lotteryd/internal/store"
)

func main() {
	configPath := pflag.String("config", "lotteryd.toml", "path to the server config file")
	pflag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadRuntimeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lotteryd: %v\n", err)
		os.Exit(1)
	}

	svc := server.NewService(cfg.Service, store.NewFileStore(cfg.StorePath))
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "lotteryd: %v\n", err)
		os.Exit(1)
	}
}
