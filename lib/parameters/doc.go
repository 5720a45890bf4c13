// Package parameters implements the layered parameter store.
//
// Parameters live in JSON files below a parameter directory (etc/parameters by default):
//
//	default.json                      required
//	body.<body_id>.json               optional
//	head.<head_id>.json               optional
//	location/<name>/default.json      optional
//	location/<name>/body.<id>.json    optional
//	location/<name>/head.<id>.json    optional
//
// The layers are merged in this order (later layers win, objects merge recursively) into one
// in-memory tree. Every change produces a new immutable Snapshot that is published through a
// multi-slot buffer, so cyclers hold a consistent snapshot for a whole cycle without locking.
//
// Remote writes only change the in-memory tree. Persist writes a value into an explicitly chosen
// layer file; the store never infers the layer.
package parameters
