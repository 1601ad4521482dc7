// Package ws connects browser terminals to the session registry over
// WebSocket.
//
// The package implements:
//   - Hub: the directory of connected browser clients; it is the registry's
//     delivery sink
//   - Handler: upgrades connections and translates JSON messages into
//     registry commands (connect, disconnect, key events, ping)
//   - Service: wires the hub and handler together and closes them on shutdown
//
// Output bytes travel base64 encoded in the data field. Telnet command
// sequences can be stripped per client before delivery; history and audit
// keep the raw stream.
package ws
