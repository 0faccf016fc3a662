// Package service glues the broker together: the Broker aggregate owns
// every component and wires them explicitly, and the Dispatcher routes
// decoded RPC requests to namespaced handlers.
//
// Handlers never reach for ambient state; everything they touch arrives
// through the Broker value, so tests can substitute fakes per component.
package service
