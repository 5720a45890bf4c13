// Package recorder taps the router and writes the values of selected paths to a file, one JSON
// object per line:
//
//	{"timestamp":{"seconds":1700000000,"nanos":5000000},"path":"Control.main_outputs.ball_position","value":{...}}
//
// Every recorded path is a regular router subscription, so a slow disk only ever drops
// intermediate values of a path (latest-only delivery) and never stalls a cycler. The
// subscriptions hand their values to the single writer through a lock-free MPSC queue.
package recorder
