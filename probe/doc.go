// Package probe
// Author: momentics <momentics@gmail.com>
//
// Single outbound HTTP probe: one GET against a target URL with a fixed
// timeout, reporting total wall-clock time or a transport-level failure.
// Non-2xx responses are successful probes; only transport errors fail.
package probe
