package main

import (
	"github.com/septivank/utility-billing-core/internal/config"
	"github.com/septivank/utility-billing-core/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}
