package control

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchSignals installs the run's signal handling: SIGINT and SIGTERM
// request a graceful stop, SIGUSR1 toggles pause. It returns once ctx
// is done.
//
// A second SIGINT/SIGTERM while draining is left to the default
// disposition, so an operator can still kill a wedged run.
func (c *Controller) WatchSignals(ctx context.Context) {
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	toggleCh := make(chan os.Signal, 1)
	signal.Notify(toggleCh, syscall.SIGUSR1)

	defer signal.Stop(stopCh)
	defer signal.Stop(toggleCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-stopCh:
			c.logger.Info("signal received", "signal", sig.String())
			signal.Stop(stopCh)
			c.Stop()
		case <-toggleCh:
			c.Toggle()
		}
	}
}
