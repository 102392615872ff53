//go:build linux

package aio

import (
	"github.com/beejones/postgres/internal/aioconf"
	"github.com/beejones/postgres/internal/driver"
	"github.com/beejones/postgres/internal/driver/posix"
	"github.com/beejones/postgres/internal/driver/ring"
	"github.com/beejones/postgres/internal/driver/worker"
)

// newDriver selects the kernel-facing backend on Linux, where every
// driver this module implements is available.
func newDriver(cfg aioconf.Config) (driver.Driver, error) {
	switch cfg.AioType {
	case aioconf.DriverRing:
		return ring.New(cfg.RingContexts, cfg.MaxAioInFlight)
	case aioconf.DriverPosix:
		return posix.New(cfg.RingContexts, cfg.AioWorkerQueueSize), nil
	default:
		return worker.New(cfg.AioWorkers, cfg.AioWorkerQueueSize), nil
	}
}
