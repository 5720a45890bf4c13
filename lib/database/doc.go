// Package database defines the per-cycler database: the published main and additional outputs of
// one cycle, the static layout describing them, the unpublished state containers (persistent state
// and cycler state) and the registry of client requests for additional outputs.
package database
