// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/relabs-tech/ais_chartplotter/internal/app"
	"github.com/relabs-tech/ais_chartplotter/internal/config"
	"github.com/relabs-tech/ais_chartplotter/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the KEY=VALUE config file")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := config.Get()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting AIS chartplotter", "config", *configPath)

	if err := app.RunChartplotter(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}
