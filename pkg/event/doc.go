// Package event implements the broker's in-process pub/sub fabric.
//
// Publishers (registry, network manager, queue worker) call Fabric.Publish;
// a single fan-out goroutine delivers each event to every session subscribed
// to a matching stream via the delivery callback. Per-session backpressure
// is the transport's concern: the fabric itself never drops or blocks on a
// slow client.
package event
