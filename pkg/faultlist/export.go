package faultlist

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/OpenTraceLab/bitfault/internal/log"
)

// RecordSize is the size of one binary fault list record: id, FAR, word,
// bit, activity time (float32) and injection result, little-endian.
const RecordSize = 24

// ErrTruncated is returned by Read for a file that ends inside a record.
var ErrTruncated = errors.New("faultlist: truncated fault list")

func appendRecord(buf []byte, e Entry) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, e.ID)
	buf = binary.LittleEndian.AppendUint32(buf, e.FAR)
	buf = binary.LittleEndian.AppendUint32(buf, e.Word)
	buf = binary.LittleEndian.AppendUint32(buf, e.Bit)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.ActivityTime))
	return binary.LittleEndian.AppendUint32(buf, e.InjectionResult)
}

// Write encodes entries as binary records.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, RecordSize)
	for _, e := range entries {
		if _, err := bw.Write(appendRecord(buf[:0], e)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read decodes binary records. Only the fields stored in the file are set.
func Read(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	var out []Entry
	var rec [RecordSize]byte
	for {
		_, err := io.ReadFull(br, rec[:])
		if err == io.EOF {
			return out, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: record %d", ErrTruncated, len(out))
		}
		if err != nil {
			return nil, err
		}
		le := binary.LittleEndian
		out = append(out, Entry{
			ID:              le.Uint32(rec[0:]),
			FAR:             le.Uint32(rec[4:]),
			Word:            le.Uint32(rec[8:]),
			Bit:             le.Uint32(rec[12:]),
			ActivityTime:    math.Float32frombits(le.Uint32(rec[16:])),
			InjectionResult: le.Uint32(rec[20:]),
		})
	}
}

// WriteFile writes entries to path.
func WriteFile(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("faultlist: %w", err)
	}
	if err := Write(f, entries); err != nil {
		f.Close()
		return fmt.Errorf("faultlist: write %s: %w", path, err)
	}
	return f.Close()
}

// ReadFile reads the fault list at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("faultlist: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// WriteParts splits entries into files of at most size records named
// Faultlist_<n>.bin inside dir and returns their paths.
func WriteParts(dir string, entries []Entry, size int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("faultlist: invalid part size %d", size)
	}
	var paths []string
	for part, chunk := range chunks(entries, size) {
		p := filepath.Join(dir, fmt.Sprintf("Faultlist_%d.bin", part))
		if err := WriteFile(p, chunk); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	log.ModFaultList.WithFields(log.Fields{"dir": dir, "parts": len(paths), "entries": len(entries)}).Info("fault list parts written")
	return paths, nil
}

func chunks(entries []Entry, size int) func(func(int, []Entry) bool) {
	return func(yield func(int, []Entry) bool) {
		for part, start := 0, 0; start < len(entries); part, start = part+1, start+size {
			if !yield(part, entries[start:min(start+size, len(entries))]) {
				return
			}
		}
	}
}

// CSVHeader is the column list of WriteCSV. Match is 1 or 0 for LUT bits
// and empty for every other cell type.
var CSVHeader = []string{"Id", "CellType", "SLR", "FAR", "Word", "Bit", "Cell", "Case", "Match", "ActivityTime", "InjectionResult"}

func matchText(e Entry) string {
	switch {
	case e.CellType != CellLUT:
		return ""
	case e.Mismatch:
		return "0"
	}
	return "1"
}

// WriteCSV writes entries as a ';' separated table.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			strconv.FormatUint(uint64(e.ID), 10),
			e.CellType.String(),
			fmt.Sprintf("0x%08x", e.Fragment),
			fmt.Sprintf("0x%08x", e.FAR),
			strconv.FormatUint(uint64(e.Word), 10),
			strconv.FormatUint(uint64(e.Bit), 10),
			e.Cell,
			e.Case,
			matchText(e),
			strconv.FormatFloat(float64(e.ActivityTime), 'g', -1, 32),
			strconv.FormatUint(uint64(e.InjectionResult), 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Sample draws n distinct entries with a generator seeded by seed. The
// result keeps the input order and is renumbered from 0; the same seed
// always selects the same entries. n >= len(entries) selects everything.
func Sample(entries []Entry, n int, seed uint64) []Entry {
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	if n < len(entries) {
		r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		idx = r.Perm(len(entries))[:max(n, 0)]
		slices.Sort(idx)
	}
	out := make([]Entry, len(idx))
	for i, j := range idx {
		out[i] = entries[j]
		out[i].ID = uint32(i)
	}
	return out
}
