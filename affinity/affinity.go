// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU affinity for the calling OS thread. Callers must hold the thread with
// runtime.LockOSThread for the pin to stay meaningful.

package affinity

import "errors"

// ErrUnsupported is returned where thread affinity cannot be set.
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// SetAffinity pins the current OS thread to logical CPU cpuID.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return errors.New("affinity: negative cpu id")
	}
	return setAffinityPlatform(cpuID)
}

// CurrentCPUs lists the CPUs the current thread may run on.
func CurrentCPUs() ([]int, error) {
	return currentCPUsPlatform()
}
