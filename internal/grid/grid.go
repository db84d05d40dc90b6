package grid

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Access grids are little-endian binary files: an 8-byte magic string, a
// version int32, a six-field header, then width x height x nValues int32
// values in row-major (y, x, value) order. The stored form is delta-encoded
// per row: each value is the difference from the previous value in the same
// row, with the prior-value register reset to zero at every row boundary.
// Unreachable cells carry math.MaxInt32 before encoding.

const (
	// Magic identifies an access grid file
	Magic = "ACCESSGR"

	// FormatVersion is the current grid format version
	FormatVersion = 0

	// HeaderSize is the byte offset of the first value
	HeaderSize = len(Magic) + 4 + 6*4
)

// Header describes a grid's extents and per-cell value count
type Header struct {
	Zoom    int32
	West    int32
	North   int32
	Width   int32
	Height  int32
	NValues int32
}

// NCells returns width x height
func (h Header) NCells() int {
	return int(h.Width) * int(h.Height)
}

// writeHeader writes the magic, version, and header fields
func writeHeader(w io.Writer, h Header) error {
	if _, err := w.Write([]byte(Magic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(FormatVersion)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h)
}

// readHeader validates the magic and reads the header fields
func readHeader(r io.Reader) (Header, error) {
	var h Header
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return h, fmt.Errorf("read grid magic: %w", err)
	}
	if string(magic) != Magic {
		return h, fmt.Errorf("not an access grid file (magic %q)", magic)
	}
	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return h, fmt.Errorf("read grid version: %w", err)
	}
	if version != FormatVersion {
		return h, fmt.Errorf("unsupported grid version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("read grid header: %w", err)
	}
	return h, nil
}

// Writer is a random-access raw (non-delta) grid file used during result
// assembly. The file is pre-sized at creation so concurrent WriteAt calls
// for different origins are safe; each origin owns a disjoint byte range.
type Writer struct {
	file   *os.File
	header Header
}

// NewWriter creates a pre-sized raw grid file with its header in place
func NewWriter(path string, header Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create grid file: %w", err)
	}
	if err := f.Truncate(int64(HeaderSize) + int64(header.NCells())*int64(header.NValues)*4); err != nil {
		f.Close()
		return nil, fmt.Errorf("presize grid file: %w", err)
	}
	if err := writeHeader(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write grid header: %w", err)
	}
	return &Writer{file: f, header: header}, nil
}

// WriteOriginValues writes one origin's values at its deterministic offset.
// Repeated writes for the same origin lay down identical bytes, so replays
// are safe.
func (w *Writer) WriteOriginValues(originIndex int, values []int32) error {
	if originIndex < 0 || originIndex >= w.header.NCells() {
		return fmt.Errorf("origin index %d out of range [0,%d)", originIndex, w.header.NCells())
	}
	if len(values) != int(w.header.NValues) {
		return fmt.Errorf("value count %d does not match grid contract %d", len(values), w.header.NValues)
	}
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	offset := int64(HeaderSize) + int64(originIndex)*int64(w.header.NValues)*4
	if _, err := w.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write origin %d: %w", originIndex, err)
	}
	return nil
}

// Sync flushes the raw file to disk
func (w *Writer) Sync() error {
	return w.file.Sync()
}

// Close closes the underlying file
func (w *Writer) Close() error {
	return w.file.Close()
}

// Path returns the raw file path
func (w *Writer) Path() string {
	return w.file.Name()
}

// EncodeDeltas transforms a raw grid file into its delta-encoded stored
// form. Values are rewritten as differences from the previous value in the
// same row; the register resets at each row boundary so rows decode
// independently.
func EncodeDeltas(rawPath, outPath string) error {
	in, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("open raw grid: %w", err)
	}
	defer in.Close()

	header, err := readHeader(in)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create encoded grid: %w", err)
	}
	defer out.Close()

	bw := bufio.NewWriter(out)
	if err := writeHeader(bw, header); err != nil {
		return fmt.Errorf("write encoded header: %w", err)
	}

	br := bufio.NewReader(in)
	rowValues := int(header.Width) * int(header.NValues)
	rowBuf := make([]byte, rowValues*4)
	outBuf := make([]byte, rowValues*4)

	for y := 0; y < int(header.Height); y++ {
		if _, err := io.ReadFull(br, rowBuf); err != nil {
			return fmt.Errorf("read raw row %d: %w", y, err)
		}
		var prev int32
		for i := 0; i < rowValues; i++ {
			v := int32(binary.LittleEndian.Uint32(rowBuf[i*4:]))
			binary.LittleEndian.PutUint32(outBuf[i*4:], uint32(v-prev))
			prev = v
		}
		if _, err := bw.Write(outBuf); err != nil {
			return fmt.Errorf("write encoded row %d: %w", y, err)
		}
	}

	return bw.Flush()
}

// Decode reads a delta-encoded grid back into memory as raw values in
// row-major (y, x, value) order.
func Decode(path string) (Header, []int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open grid: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	header, err := readHeader(br)
	if err != nil {
		return Header{}, nil, err
	}

	rowValues := int(header.Width) * int(header.NValues)
	values := make([]int32, header.NCells()*int(header.NValues))
	rowBuf := make([]byte, rowValues*4)

	for y := 0; y < int(header.Height); y++ {
		if _, err := io.ReadFull(br, rowBuf); err != nil {
			return Header{}, nil, fmt.Errorf("read row %d: %w", y, err)
		}
		var prev int32
		for i := 0; i < rowValues; i++ {
			prev += int32(binary.LittleEndian.Uint32(rowBuf[i*4:]))
			values[y*rowValues+i] = prev
		}
	}

	return header, values, nil
}
