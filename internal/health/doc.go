// Package health composes liveness and readiness probes and serves them.
//
// A Probe returns nil when healthy. All and Any combine probes, Fixed is a
// constant answer. ShutdownGate fails readiness as soon as draining starts
// so load balancers stop routing before the listeners close.
package health
