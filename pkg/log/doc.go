// Package log provides structured trace logging for the broker.
//
// Components emit Event records describing frames, RPC messages, state
// changes, and errors at the transport, wire, and service layers. Events can
// be written to a CBOR trace file (FileLogger), mirrored to the console
// through an slog.Logger (SlogAdapter), or both (MultiLogger). The Reader
// streams a trace file back with optional filtering.
package log
