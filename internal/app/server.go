package app

import (
	"context"
	stderrors "errors"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/server"
)

// RunServer builds the HTTP server with all handlers configured and starts
// the background services.
func (app *App) RunServer() (*server.Server, error) {
	router, err := app.SetupRoutes()
	if err != nil {
		return nil, err
	}

	if app.Housekeeping != nil {
		app.Housekeeping.Start()
	}

	return server.New(router, app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile, logging.Component("server")), nil
}

// Shutdown stops the background services: the dispatcher drains its
// in-flight attempts, housekeeping waits for a running purge and the
// metrics provider flushes. The HTTP server must already be closed.
func (app *App) Shutdown(ctx context.Context) error {
	var errs []error

	if app.Dispatcher != nil {
		if err := app.Dispatcher.Close(ctx); err != nil {
			app.Logger.Warn("Error draining dispatcher", logging.String("error", err.Error()))
			errs = append(errs, err)
		} else {
			app.Logger.Info("Dispatcher stopped")
		}
	}

	if app.Housekeeping != nil {
		if err := app.Housekeeping.Stop(ctx); err != nil {
			app.Logger.Warn("Error stopping housekeeping", logging.String("error", err.Error()))
			errs = append(errs, err)
		} else {
			app.Logger.Info("Housekeeping stopped")
		}
	}

	if app.Metrics != nil {
		if err := app.Metrics.Shutdown(ctx); err != nil {
			app.Logger.Warn("Error shutting down metrics", logging.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}
