// Command api-server serves the dumpster rental directory API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	directory "github.com/xenking/dumpster-directory/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := directory.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "config")
		}
		lg.Info("Configuration loaded", cfg.Fields()...)
		return directory.Run(ctx, lg, m, cfg)
	})
}
