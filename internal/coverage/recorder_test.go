package coverage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// parseDrcov splits a drcov file into its header lines and the raw basic
// block records.
func parseDrcov(t *testing.T, path string) ([]string, []byte) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read coverage file: %v", err)
	}
	marker := bytes.Index(data, []byte("BB Table: "))
	if marker < 0 {
		t.Fatalf("no BB Table header in %q", data)
	}
	nl := bytes.IndexByte(data[marker:], '\n')
	if nl < 0 {
		t.Fatalf("unterminated BB Table header")
	}
	headerEnd := marker + nl + 1
	header := strings.Split(strings.TrimRight(string(data[:headerEnd]), "\n"), "\n")
	return header, data[headerEnd:]
}

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.drcov")
	r := NewRecorder(nil)
	if err := r.Init(out); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return r, out
}

func TestInitTwiceFails(t *testing.T) {
	r, _ := newTestRecorder(t)
	if err := r.Init("other.drcov"); err != ErrAlreadyEnabled {
		t.Errorf("second Init = %v, want ErrAlreadyEnabled", err)
	}
}

func TestInitAfterShutdownFails(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.Shutdown()
	if err := r.Init("again.drcov"); err != ErrShutDown {
		t.Fatalf("Init after Shutdown = %v, want ErrShutDown", err)
	}
	if r.Enabled() {
		t.Error("recorder re-enabled after shutdown")
	}
	r.RecordBlock(0x1000, 4) // must stay a no-op
	if r.BlockCount() != 0 {
		t.Error("shut-down recorder accepted a block")
	}
}

func TestRecordBeforeInitIsNoop(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordBlock(0x1000, 4) // must not panic or create state
	if r.Enabled() {
		t.Error("recorder should not be enabled before Init")
	}
}

func TestDedupKeepsFirstSize(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("/bin/prog", 0x1000, 0x100000, 0x1000)

	r.RecordBlock(0x2000, 4)
	r.RecordBlock(0x2000, 9)
	r.Shutdown()

	header, body := parseDrcov(t, out)
	if got := header[len(header)-1]; got != "BB Table: 1 bbs" {
		t.Errorf("BB Table header = %q, want 1 bbs", got)
	}
	if len(body) != 8 {
		t.Fatalf("body = %d bytes, want 8", len(body))
	}
	if off := binary.LittleEndian.Uint32(body[0:4]); off != 0x1000 {
		t.Errorf("offset = 0x%x, want 0x1000", off)
	}
	if size := binary.LittleEndian.Uint16(body[4:6]); size != 4 {
		t.Errorf("size = %d, want first-seen 4", size)
	}
	if mod := binary.LittleEndian.Uint16(body[6:8]); mod != 0 {
		t.Errorf("module id = %d, want 0", mod)
	}
}

func TestFlushThreshold(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("/bin/prog", 0x1000, 0x100000, 0x1000)

	for i := 0; i < 99; i++ {
		r.RecordBlock(0x2000+uint64(i)*4, 4)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("file exists after 99 blocks, flush came early")
	}

	// Re-recording a seen block must not trigger the flush.
	r.RecordBlock(0x2000, 4)
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("duplicate block counted towards flush threshold")
	}

	r.RecordBlock(0x3000, 4)
	_, body := parseDrcov(t, out)
	if len(body) != 100*8 {
		t.Fatalf("body = %d bytes after 100th block, want %d", len(body), 100*8)
	}

	// Counter reset: the next flush happens after another hundred blocks.
	for i := 0; i < 99; i++ {
		r.RecordBlock(0x4000+uint64(i)*4, 4)
	}
	_, body = parseDrcov(t, out)
	if len(body) != 100*8 {
		t.Fatalf("flush fired before counter refilled: %d bytes", len(body))
	}
	r.RecordBlock(0x8000, 4)
	_, body = parseDrcov(t, out)
	if len(body) != 200*8 {
		t.Fatalf("body = %d bytes after 200th block, want %d", len(body), 200*8)
	}
}

func TestFlushZeroBlocks(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("/bin/prog", 0x1000, 0x100000, 0x1040)
	r.Shutdown()

	header, body := parseDrcov(t, out)
	want := []string{
		"DRCOV VERSION: 2",
		"DRCOV FLAVOR: drcov-64",
		"Module Table: version 2, count 1",
		"Columns: id, base, end, entry, path",
		"0, 0x1000, 0x100000, 0x1040, /bin/prog",
		"BB Table: 0 bbs",
	}
	if len(header) != len(want) {
		t.Fatalf("header = %d lines, want %d: %q", len(header), len(want), header)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Errorf("header[%d] = %q, want %q", i, header[i], want[i])
		}
	}
	if len(body) != 0 {
		t.Errorf("body = %d bytes, want none", len(body))
	}
}

func TestOutOfRangeBlocksFiltered(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("/bin/prog", 0x1000, 0x2000, 0x1000)

	r.RecordBlock(0x0800, 4)  // below
	r.RecordBlock(0x1000, 4)  // first in range
	r.RecordBlock(0x1ffc, 4)  // last in range
	r.RecordBlock(0x2000, 4)  // end is exclusive
	r.RecordBlock(0x10000, 4) // above
	r.Shutdown()

	header, body := parseDrcov(t, out)
	if got := header[len(header)-1]; got != "BB Table: 2 bbs" {
		t.Errorf("BB Table header = %q, want 2 bbs", got)
	}
	if len(body) != 16 {
		t.Fatalf("body = %d bytes, want 16", len(body))
	}
}

func TestSizeClamp(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("/bin/prog", 0x1000, 0x100000, 0x1000)
	r.RecordBlock(0x1000, 0x20000)
	r.Shutdown()

	_, body := parseDrcov(t, out)
	if size := binary.LittleEndian.Uint16(body[4:6]); size != 0xFFFF {
		t.Errorf("size = 0x%x, want clamped 0xFFFF", size)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("/bin/prog", 0x1000, 0x100000, 0x1000)
	r.RecordBlock(0x1000, 4)
	r.Shutdown()
	r.Shutdown()

	if r.Enabled() {
		t.Error("recorder enabled after Shutdown")
	}
	r.RecordBlock(0x2000, 4) // dropped
	_, body := parseDrcov(t, out)
	if len(body) != 8 {
		t.Errorf("body = %d bytes, want 8 (block after shutdown recorded)", len(body))
	}
}

func TestSetBinaryInfoReexpandsTemplate(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(nil)
	if err := r.Init(filepath.Join(dir, "cov-%s.drcov")); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if got, want := r.OutputPath(), filepath.Join(dir, "cov-unknown.drcov"); got != want {
		t.Errorf("output before binary info = %q, want %q", got, want)
	}

	r.SetBinaryInfo("/usr/bin/prog", 0x1000, 0x2000, 0x1000)
	if got, want := r.OutputPath(), filepath.Join(dir, "cov-prog.drcov"); got != want {
		t.Errorf("output after binary info = %q, want %q", got, want)
	}

	// Last call wins.
	r.SetBinaryInfo("/usr/bin/other", 0x1000, 0x2000, 0x1000)
	if got, want := r.OutputPath(), filepath.Join(dir, "cov-other.drcov"); got != want {
		t.Errorf("output after second binary info = %q, want %q", got, want)
	}
	r.Shutdown()
}

func TestConcurrentRecorders(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("/bin/prog", 0, 1<<32, 0)

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			for i := 0; i < 250; i++ {
				r.RecordBlock(uint64(g)<<16|uint64(i)*4, 4)
			}
			done <- struct{}{}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}
	r.Shutdown()

	_, body := parseDrcov(t, out)
	if len(body) != 1000*8 {
		t.Errorf("body = %d bytes, want %d", len(body), 1000*8)
	}
}

func TestModulePathFallback(t *testing.T) {
	r, out := newTestRecorder(t)
	r.SetBinaryInfo("", 0, 0x1000, 0)
	r.Shutdown()

	header, _ := parseDrcov(t, out)
	want := fmt.Sprintf("0, 0x%x, 0x%x, 0x%x, unknown", 0, 0x1000, 0)
	if header[4] != want {
		t.Errorf("module row = %q, want %q", header[4], want)
	}
}
