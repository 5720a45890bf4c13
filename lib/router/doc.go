// Package router exposes cycler outputs and parameters by path.
//
// A Router is a table of mount points. Each mount binds a path prefix to a source, which publishes
// the values below it, and/or a sink, which accepts writes. No mount prefix may be a prefix of
// another, so a request is dispatched to the single mount whose prefix it starts with.
//
// Sources:
//
//   - CyclerSource: one section of a cycler database, e.g. Control.main_outputs. Reads of
//     additional outputs lease their production, subscriptions keep it enabled.
//   - ParameterSource: the parameter store, readable, writable and persistable.
//   - StatisticsSource: cycle and node timers of all cyclers.
//
// Subscriptions are latest-only: every source change wakes one forwarder goroutine per subscription,
// which reads the path again and places the value in a single-slot mailbox if it differs from the
// previously delivered one. A slow consumer skips intermediate values instead of building a queue.
package router
