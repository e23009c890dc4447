// Package store defines shared persistence plumbing for the task sources.
// It keeps the database abstractions and error taxonomy independent of any
// specific backend; the sqlite and postgres packages under platform/ supply
// the concrete implementations.
package store
