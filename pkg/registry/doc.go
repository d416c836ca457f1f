// Package registry holds the in-memory authoritative view of all
// tracked instances, indexed by instance ID and by composition key.
// Mutations and listings are individually atomic; callers needing a
// larger read-modify-write sequence serialize through the cluster lock.
package registry
