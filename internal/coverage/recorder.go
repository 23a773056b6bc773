// Package coverage records executed basic blocks and persists them in the
// drcov version-2 format understood by Lighthouse and similar viewers.
package coverage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zboralski/gavial/internal/log"
)

// DefaultOutput is the fallback output name when no template is given.
const DefaultOutput = "coverage.drcov"

// flushInterval is the number of new blocks between periodic flushes.
const flushInterval = 100

var (
	// ErrAlreadyEnabled reports a second Init on an enabled recorder.
	ErrAlreadyEnabled = errors.New("coverage already initialized")
	// ErrShutDown reports an Init on a recorder that has been shut down.
	ErrShutDown = errors.New("coverage recorder shut down")
)

// Recorder deduplicates translated-block events and periodically writes the
// full accumulated set to disk. The zero state is uninitialized; Init
// enables it and Shutdown disables it permanently.
type Recorder struct {
	mu sync.Mutex

	enabled  bool
	disabled bool

	template string
	output   string

	// pc -> first-seen size. Never shrinks, never updates an entry.
	blocks    map[uint64]uint32
	newBlocks int

	binaryPath string
	binaryName string
	start      uint64
	end        uint64
	entry      uint64

	log *log.Logger
}

// NewRecorder creates an uninitialized recorder.
func NewRecorder(logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Recorder{log: logger}
}

// Init enables the recorder with the given filename template ("" selects
// DefaultOutput). The template is expanded immediately without a program
// name and re-expanded by SetBinaryInfo once the name is known.
func (r *Recorder) Init(template string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return ErrAlreadyEnabled
	}
	if r.disabled {
		return ErrShutDown
	}
	if template == "" {
		template = DefaultOutput
	}
	r.template = template
	r.output = Expand(template, "")
	r.blocks = make(map[uint64]uint32)
	r.newBlocks = 0
	r.enabled = true
	return nil
}

// Enabled reports whether the recorder accepts blocks.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetBinaryInfo records the traced binary's path, code range and entry point
// for the module table, and re-expands the output filename with the binary's
// basename. Idempotent; the last call wins.
func (r *Recorder) SetBinaryInfo(path string, start, end, entry uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.binaryPath = path
	r.start = start
	r.end = end
	r.entry = entry

	r.binaryName = ""
	if path != "" {
		r.binaryName = filepath.Base(path)
	}
	if r.template != "" {
		r.output = Expand(r.template, r.binaryName)
		r.log.CoverageOutput(r.output)
	}
}

// OutputPath returns the currently resolved output filename.
func (r *Recorder) OutputPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// RecordBlock records one translated block. Deduplication is by pc alone;
// the first-seen size is retained permanently. Every hundredth new block
// triggers a full flush. No-op once the recorder is disabled.
func (r *Recorder) RecordBlock(pc uint64, size uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled || r.blocks == nil {
		return
	}
	if _, seen := r.blocks[pc]; seen {
		return
	}
	r.blocks[pc] = size
	r.newBlocks++
	if r.newBlocks >= flushInterval {
		r.flushLocked()
		r.newBlocks = 0
	}
}

// BlockCount returns the number of recorded blocks inside the code range.
func (r *Recorder) BlockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inRangeLocked())
}

// Shutdown performs a final flush, logs a summary, and releases all state.
// Idempotent; the recorder cannot be re-enabled afterwards.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	r.flushLocked()
	r.log.CoverageSummary(len(r.inRangeLocked()), r.output)

	r.blocks = nil
	r.newBlocks = 0
	r.enabled = false
	r.disabled = true
}

// inRangeLocked returns recorded blocks with start <= pc < end, ascending.
func (r *Recorder) inRangeLocked() []uint64 {
	pcs := make([]uint64, 0, len(r.blocks))
	for pc := range r.blocks {
		if pc >= r.start && pc < r.end {
			pcs = append(pcs, pc)
		}
	}
	sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })
	return pcs
}

// flushLocked overwrites the output file with a complete snapshot: textual
// drcov header, one-row module table, and one packed 8-byte record per
// in-range block. The file is rewritten in place, not renamed into place, so
// a reader sampling mid-write can observe a partial file. I/O failures are
// logged and dropped; the next threshold retries.
func (r *Recorder) flushLocked() {
	if !r.enabled || r.output == "" {
		return
	}

	f, err := os.Create(r.output)
	if err != nil {
		r.log.Warn("coverage flush failed: " + err.Error())
		return
	}
	defer f.Close()

	pcs := r.inRangeLocked()

	w := bufio.NewWriter(f)
	path := r.binaryPath
	if path == "" {
		path = "unknown"
	}
	fmt.Fprintf(w, "DRCOV VERSION: 2\n")
	fmt.Fprintf(w, "DRCOV FLAVOR: drcov-64\n")
	fmt.Fprintf(w, "Module Table: version 2, count 1\n")
	fmt.Fprintf(w, "Columns: id, base, end, entry, path\n")
	fmt.Fprintf(w, "0, 0x%x, 0x%x, 0x%x, %s\n", r.start, r.end, r.entry, path)
	fmt.Fprintf(w, "BB Table: %d bbs\n", len(pcs))

	var rec [8]byte
	for _, pc := range pcs {
		size := r.blocks[pc]
		if size > 0xFFFF {
			size = 0xFFFF
		}
		binary.LittleEndian.PutUint32(rec[0:4], uint32(pc-r.start))
		binary.LittleEndian.PutUint16(rec[4:6], uint16(size))
		binary.LittleEndian.PutUint16(rec[6:8], 0) // single-module table
		if _, err := w.Write(rec[:]); err != nil {
			r.log.Warn("coverage flush failed: " + err.Error())
			return
		}
	}

	if err := w.Flush(); err != nil {
		r.log.Warn("coverage flush failed: " + err.Error())
	}
}
