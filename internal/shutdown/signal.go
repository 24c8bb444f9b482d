package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// NotifyOnSignal fires n when one of sigs arrives or ctx is done.
// With no sigs it listens for SIGINT and SIGTERM. The returned stop function
// unregisters the handler without firing n.
func NotifyOnSignal(ctx context.Context, n *Notifier, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)

	quit := make(chan struct{})
	go func() {
		select {
		case s := <-sigCh:
			n.log.Info("Received signal", "signal", s.String())
			n.Fire()
		case <-ctx.Done():
			n.Fire()
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(quit)
		})
	}
}
