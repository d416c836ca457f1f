// Package config parses and validates the compose file: resource
// profiles, job templates, the declared composition targets, and the
// runtime tunables. Validation happens at load time so a malformed
// composition never reaches the reconciliation loop.
package config
