// Package httpmw holds the middleware wrapped around the public site router.
// httpserver.NewHandler decides the order; each piece works on its own.
//
// Query strings, user agents and other client-supplied headers are kept out
// of the logs.
package httpmw
