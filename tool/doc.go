// Package tool exposes the session pool as two transport-neutral tools:
// eval, which runs Lua code in a session, and list-globals. Transports such
// as MCP or HTTP translate their requests into [EvalInput] and
// [ListGlobalsInput] and forward events through a [Notifier].
package tool
