// Package wire implements the broker's JSON-RPC 2.0 wire format.
//
// Every message is a UTF-8 text frame carrying a single JSON object with a
// "jsonrpc":"2.0" marker. Requests carry a method and optional id; messages
// without an id are one-way notifications and never receive a reply. Binary
// payloads travel as hex or base64 inside text fields; the encoding is a
// contract of the individual method, not of the transport.
package wire
