// Package database owns engines and sessions for the sync and async execution
// modes. Initialize installs the process-wide Magic configuration; scoped
// sessions obtained from it commit on success, roll back on error, and always
// close. The package also carries the bun engine provider, query hooks,
// Prometheus metrics, tracing, health checks, config loading, and logging.
package database
