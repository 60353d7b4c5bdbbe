// Package dependency adapts scoped sessions to per-request lifetimes. A
// Provider opens a resource and hands back its teardown; a Request resolves
// providers, caches their values for the rest of the request unless told not
// to, and tears everything down in reverse order when the request ends.
// Middleware wires a Request into net/http.
package dependency
