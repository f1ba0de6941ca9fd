/*
Package protocol implements the canvas protocol dispatcher.

Every protocol client moves through a fixed state machine:

	Connected -> Authorized -> Active -> Closing -> Closed

Requests are only accepted while a client is Active. Each request is decoded,
checked against the client's resource limits and executed on the canvas event
loop through a ports.Executor, so no two requests ever interleave. Transports
(HTTP, WebSocket, MCP) own the wire and call Dispatcher.Handle; they never touch
canvas state directly.
*/
package protocol
