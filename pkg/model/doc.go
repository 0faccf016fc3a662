// Package model defines the core data types shared across the broker:
// devices, device events, and queued operation jobs.
//
// Types in this package are plain values with no behavior beyond
// identity derivation and cloning. Ownership rules:
//   - Device records are mutated only by the registry under its lock.
//   - OperationJob rows are mutated only by the queue store.
//   - Events are immutable once published.
package model
