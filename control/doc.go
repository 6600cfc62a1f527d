// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection layer.
//
// Provides:
//   - Config defaults, validation, env and flag binding
//   - Prometheus collectors for connections, probes and batches
//   - Debug probe registration and state export
//   - The control HTTP surface (/metrics, /debug/state, /debug/config)
package control
