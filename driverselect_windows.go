//go:build windows

package aio

import (
	"github.com/beejones/postgres/internal/aioconf"
	"github.com/beejones/postgres/internal/driver"
	"github.com/beejones/postgres/internal/driver/cport"
	"github.com/beejones/postgres/internal/driver/worker"
)

// newDriver selects the kernel-facing backend on Windows, where the
// completion-port driver replaces io_uring/POSIX AIO.
func newDriver(cfg aioconf.Config) (driver.Driver, error) {
	switch cfg.AioType {
	case aioconf.DriverCompletionPort:
		return cport.New(cfg.RingContexts, cfg.AioWorkers)
	default:
		return worker.New(cfg.AioWorkers, cfg.AioWorkerQueueSize), nil
	}
}
