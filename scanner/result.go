package scanner

import (
	"encoding/json"
	"time"

	"github.com/blake3vault/scancore/scanerr"
)

// ScanError is one file- or directory-level failure recorded during a
// scan; traversal continues past it unless the visitor returns
// Terminate (§7 Propagation).
type ScanError struct {
	Path string
	Kind scanerr.Kind
	Err  error
}

// Result is the report produced by a completed scan (§6 Persisted
// state layout: serialized on demand, not persisted by the core
// itself).
type Result struct {
	ScanID        string    `json:"scanId"`
	RootDirectory string    `json:"rootDirectory"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`

	ScannedFileCount         int64 `json:"scannedFileCount"`
	ErrorCount               int64 `json:"errorCount"`
	TotalSize                int64 `json:"totalSize"`
	ThreadCount              int   `json:"threadCount"`
	DirectoriesScanned       int64 `json:"directoriesScanned"`
	SymbolicLinksEncountered int64 `json:"symbolicLinksEncountered"`
	SparseFilesDetected      int64 `json:"sparseFilesDetected"`
	BackpressureEvents       int64 `json:"backpressureEvents"`
	PeakMemoryUsage          int64 `json:"peakMemoryUsage"`
	WasCancelled             bool  `json:"wasCancelled"`

	Errors []ScanError `json:"-"`
}

// DurationMillis is EndTime-StartTime in milliseconds.
func (r Result) DurationMillis() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Throughput is ScannedFileCount per elapsed second.
func (r Result) Throughput() float64 {
	secs := r.EndTime.Sub(r.StartTime).Seconds()
	if secs <= 0 {
		return 0
	}

	return float64(r.ScannedFileCount) / secs
}

// resultAlias has Result's fields but not its methods, so embedding it
// below does not recurse back into MarshalJSON.
type resultAlias Result

// resultJSON mirrors Result but adds the two derived fields the §6
// persisted-state layout lists alongside the stored ones.
type resultJSON struct {
	resultAlias

	DurationMillis int64   `json:"durationMillis"`
	Throughput     float64 `json:"throughput"`
}

// MarshalJSON includes the derived durationMillis/throughput fields
// alongside Result's stored ones, matching §6's full persisted-field
// list without keeping them as redundant stored fields.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		resultAlias:    resultAlias(r),
		DurationMillis: r.DurationMillis(),
		Throughput:     r.Throughput(),
	})
}
