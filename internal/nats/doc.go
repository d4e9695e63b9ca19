// Package nats exposes the supervisor over an embedded NATS server.
//
// # Architecture
//
//   - Server: embedded NATS server running inside the spagmon process
//   - Bridge: forwards job events from the event bus to NATS and answers
//     control requests by calling the supervisor
//   - Client: used by `spagmon watch` and other tools to follow events and
//     send instructions
//
// # Subject Hierarchy
//
//	spagmon.events.{event}       # job events, JSON payload (bridge → clients)
//	spagmon.control.instruct     # request/reply, instruct a job
//	spagmon.control.restart      # request/reply, replace a process by pid
//
// Event names match the SSE event names of /api/events, for example
// process-lost or trigger-fired. Events use core NATS publish, so a
// subscriber only sees events published while it is connected.
//
// # Debugging with nats CLI
//
// Follow every job event:
//
//	nats sub "spagmon.events.>"
//
// Scale a job:
//
//	nats req spagmon.control.instruct '{"job":"web","instruction":"2 more"}'
//
// Replace a process:
//
//	nats req spagmon.control.restart '{"pid":4820}'
package nats
