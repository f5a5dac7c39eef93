// Package csvio reads the delimited extracts and lookup tables used by the pipeline.
// Files are often exported from spreadsheets, so a UTF-8 BOM, ragged rows and Latin-1
// encoding are all tolerated.
package csvio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Supported encodings
const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin1"
)

// Options controls how a file is decoded
type Options struct {
	// Encoding is EncodingUTF8 (default) or EncodingLatin1
	Encoding string
	// Comma is the field delimiter (default ',')
	Comma rune
}

// Table is a fully read delimited file
type Table struct {
	Header []string
	Rows   [][]string
}

// Index returns the position of a header column, or -1 if absent
func (t *Table) Index(col string) int {
	for i, h := range t.Header {
		if h == col {
			return i
		}
	}
	return -1
}

// ReadAll reads a header row followed by data rows.
// Headers are trimmed; blank lines are skipped.
func ReadAll(r io.Reader, opts Options) (*Table, error) {
	decoded, err := decoder(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(decoded, 64*1024)

	// Skip UTF-8 BOM if present
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	t := &Table{Header: header}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+2, err)
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadFile opens path and reads it with ReadAll
func ReadFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadAll(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Cell returns the trimmed value at i, or "" when the row is short
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func decoder(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingUTF8, "utf8":
		return r, nil
	case EncodingLatin1, "iso-8859-1", "iso8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// CheckEncoding returns an error when encoding is not supported by ReadAll
func CheckEncoding(encoding string) error {
	_, err := decoder(strings.NewReader(""), encoding)
	return err
}
