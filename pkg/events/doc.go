// Package events provides an in-process pub/sub broker for instance
// lifecycle events. The cluster publishes on every state transition;
// subscribers (the CLI, tests) receive on buffered channels and are
// skipped rather than blocked when their buffer is full.
package events
