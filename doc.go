// Package magic is the convenience layer over database and binding: Service
// runs repository operations in their own scoped sessions, and UnitOfWork runs
// many repositories in one.
package magic
