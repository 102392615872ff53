//go:build !linux && !windows

package aio

import (
	"github.com/beejones/postgres/internal/aioconf"
	"github.com/beejones/postgres/internal/driver"
	"github.com/beejones/postgres/internal/driver/worker"
)

// newDriver selects the kernel-facing backend on platforms with none
// of the native facilities this module binds to; the portable worker
// pool is always available.
func newDriver(cfg aioconf.Config) (driver.Driver, error) {
	return worker.New(cfg.AioWorkers, cfg.AioWorkerQueueSize), nil
}
