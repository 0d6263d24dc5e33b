package opshttp

import (
	"net/http"

	"github.com/keithlinneman/pagesite/internal/health"
	"github.com/keithlinneman/pagesite/internal/log"
)

type Options struct {
	Logger log.Logger

	// Port defaults to 9000
	Port int

	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// AllowPublic lets public source addresses in. Off, only private and
	// loopback peers are served.
	AllowPublic bool

	// OnPanic runs after a handler panic is recovered
	OnPanic func()
}
