// Package server implements the HTTP and WebSocket transport of SafeChat.
//
// A Server wires the membership registry and the protocol handler to a Hub,
// which implements the handler's Gateway by fanning events out to per-topic
// subscribers. The implementation is organized into specialized files for
// configuration, hub management, clients, routing, and HTTP handlers.
package server
