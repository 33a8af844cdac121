// Package server hosts the Fiber HTTP service and its middleware chain.
// It assigns request IDs, recovers from handler panics, and forwards every
// non-diagnostic GET/HEAD request to the image handler supplied by the caller.
// Diagnostics live under the reserved "/-/" prefix and are registered by the
// routes subpackage, so keep exports narrow and accept explicit dependencies.
package server
