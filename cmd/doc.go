// Package cmd implements the command-line interface of dCycle. It provides a
// command to run the runtime and commands to inspect and tune a running one.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the runtime with its cyclers, parameter store and protocol endpoint
//   - access: Client commands (paths, read, subscribe, write, persist, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set as environment variables DCYCLE_<FLAG>, for example
// DCYCLE_PARAMETERS_DIR=/etc/dcycle. See dcycle -help for a list of all commands.
package cmd
