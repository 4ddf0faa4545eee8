// Package server hosts the Fiber HTTP service: request ID middleware, library
// resolution by the first path segment, and the catch-all that hands resolved
// requests to the page handler. Diagnostics under /-/ bypass library lookup and
// are registered by package routes. Keep exports narrow and accept explicit
// dependencies so tests can swap the handler.
package server
