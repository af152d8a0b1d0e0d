package buf

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/atomic"
)

// pressureDetector estimates memory pressure as the worse of the Go
// heap's utilization against its last GC target and the host's native
// memory utilization (gopsutil), per §4.1's "combined heap and native
// memory pressure signal".
type pressureDetector struct {
	oomEvents atomic.Int64
	lastLevel atomic.Float64
}

func newPressureDetector(threshold float64) *pressureDetector {
	_ = threshold

	return &pressureDetector{}
}

func (d *pressureDetector) reportOOM() {
	d.oomEvents.Inc()
}

// poll returns the current pressure level in [0,1] and whether it
// breaches threshold.
func (d *pressureDetector) poll(threshold float64) (level float64, breached bool) {
	level = d.heapLevel()

	if native, err := d.nativeLevel(); err == nil && native > level {
		level = native
	}

	// A recent allocation failure pins pressure at 1.0 for one interval
	// even if the signals above have since recovered, so the responder
	// gets a chance to shed idle buffers before the next OOM.
	if d.oomEvents.Swap(0) > 0 {
		level = 1.0
	}

	d.lastLevel.Store(level)

	return level, level >= threshold
}

func (d *pressureDetector) heapLevel() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	if ms.NextGC == 0 {
		return 0
	}

	return float64(ms.HeapAlloc) / float64(ms.NextGC)
}

func (d *pressureDetector) nativeLevel() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}

	return vm.UsedPercent / 100.0, nil
}
