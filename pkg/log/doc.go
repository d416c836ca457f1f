// Package log provides structured logging for batchcompose, built on
// zerolog. Call Init once at startup, then use the package helpers or
// derive child loggers with WithComponent, WithInstanceID and
// WithCompositionKey for contextual fields.
package log
