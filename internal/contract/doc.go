// ABOUTME: Contract tests guarding the control API surface and the database schema
// ABOUTME: Renaming a method, table or column breaks these tests before it breaks a deployment

// Package contract holds tests only.
package contract
