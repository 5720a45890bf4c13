// Package path implements the hierarchical path algebra used to address outputs and parameters.
//
// Paths are dotted segment lists (Control.main_outputs.ball_position.x). The package provides:
//
//   - Path: parsing, prefix tests, prefix stripping, parent/child navigation.
//   - Trees: the dynamically typed JSON form of values, with Traverse (read at a path),
//     copy-on-write Set (write at a path with shape checking), Insert and right-biased Merge.
//   - Type: a static description of a value's shape that enumerates every reachable path without a
//     concrete value. Descriptions are derived by reflection once, when the runtime is assembled.
package path
