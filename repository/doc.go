// Package repository provides a generic, session-bound repository built on
// Bun for CRUD operations, querying, pagination, and upsert support.
package repository
