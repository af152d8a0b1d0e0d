package pool

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/blake3vault/scancore/logging"
)

var (
	cpuOnce  sync.Once
	detected int
)

// DefaultCPUCount returns the container-aware CPU count (P in §4.2's
// defaults table), applying go.uber.org/automaxprocs once per process
// so GOMAXPROCS reflects any cgroup CPU quota when runtime.GOMAXPROCS(0)
// is read; the previous GOMAXPROCS setting is restored afterwards.
func DefaultCPUCount() int {
	cpuOnce.Do(func() {
		l := logging.Module("pool")(context.Background())

		undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			l.Debugf(format, args...)
		}))
		if err != nil {
			l.Warn("automaxprocs: failed to set GOMAXPROCS: ", err)
		} else {
			defer undo()
		}

		detected = runtime.GOMAXPROCS(0)
		if detected < 1 {
			detected = 1
		}
	})

	return detected
}
