package main

import (
	"rtb-bidder/internal/app/server"
	"rtb-bidder/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat, cfg.Bidder.Instance)
	server.Run(cfg)
}
