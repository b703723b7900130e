// Package websocket streams live events to administrative clients.
//
// Each connection gets an ephemeral consumer group created at the stream
// tail, so a tail never replays history and never disturbs the cursors of
// real consumer groups. The group is destroyed when the client leaves.
package websocket
