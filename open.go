package aio

import "github.com/beejones/postgres/internal/aioconf"

// Open constructs an Engine wired to the driver selected by
// cfg.AioType, the module's single entry point.
func Open(cfg aioconf.Config, opts ...Option) (*Engine, error) {
	drv, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg, drv, opts...), nil
}
