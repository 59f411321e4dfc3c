// Package datafile reads the raw tabular files of datasets and the
// extended row files written by the extension stage.
package datafile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go-dataset-pipeline/internal/model"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Encodings detected by Sniff
const (
	EncodingUTF8   = "UTF-8"
	EncodingLatin1 = "ISO-8859-1"
)

// sniffSize is how much of a file is inspected to guess its encoding and delimiter.
const sniffSize = 64 * 1024

var delimiters = []rune{',', ';', '\t', '|'}

// Row is one line of a dataset, keyed by field key.
type Row map[string]any

// RowReader iterates over the rows of a file.
type RowReader interface {
	Next() (Row, error)
	Close() error
}

// Head reads the first bytes of the file at path.
func Head(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	defer f.Close()
	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, "reading file head")
	}
	return buf[:n], nil
}

// SniffEncoding guesses the character encoding of sample.
func SniffEncoding(sample []byte) string {
	// the sample may end in the middle of a multi-byte rune
	for i := 1; i < utf8.UTFMax && i <= len(sample); i++ {
		tail := sample[len(sample)-i:]
		if utf8.RuneStart(tail[0]) {
			if !utf8.FullRune(tail) {
				sample = sample[:len(sample)-i]
			}
			break
		}
	}
	if utf8.Valid(sample) {
		return EncodingUTF8
	}
	return EncodingLatin1
}

// SniffDelimiter picks the delimiter producing the most consistent column
// count over the first lines of sample.
func SniffDelimiter(sample []byte) rune {
	lines := bytes.Split(sample, []byte("\n"))
	if len(lines) > 1 {
		// the last line may be truncated
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 20 {
		lines = lines[:20]
	}
	best, bestScore := ',', 0
	for _, d := range delimiters {
		counts := make(map[int]int)
		for _, l := range lines {
			if len(bytes.TrimSpace(l)) == 0 {
				continue
			}
			counts[bytes.Count(l, []byte(string(d)))]++
		}
		score := 0
		for n, c := range counts {
			if n > 0 && c*n > score {
				score = c * n
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// Decoder returns a reader converting r from encoding to UTF-8.
func Decoder(r io.Reader, encoding string) io.Reader {
	if encoding == EncodingLatin1 {
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	}
	return r
}

// CSVReader reads the raw file of a dataset.
type CSVReader struct {
	f      *os.File
	r      *csv.Reader
	keys   []string
	header []string
	line   int
}

// OpenCSV opens the raw file at path described by file. When file.Schema
// is set, cells are keyed by the field whose x-originalName matches the
// header; otherwise by the header itself.
func OpenCSV(path string, file *model.File) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	r := csv.NewReader(bufio.NewReader(Decoder(f, file.Encoding)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = false
	if file.Props.Delimiter != "" {
		d, _ := utf8.DecodeRuneInString(file.Props.Delimiter)
		r.Comma = d
	}
	header, err := r.Read()
	if err == io.EOF {
		header = nil
	} else if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "reading header")
	}
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}

	keys := make([]string, len(header))
	byOriginal := make(map[string]string, len(file.Schema))
	for _, field := range file.Schema {
		byOriginal[field.OriginalName] = field.Key
	}
	for i, h := range header {
		if k, ok := byOriginal[h]; ok {
			keys[i] = k
		} else {
			keys[i] = h
		}
	}
	return &CSVReader{f: f, r: r, keys: keys, header: header}, nil
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

// Header returns the column names as they appear in the file.
func (c *CSVReader) Header() []string { return c.header }

// Next returns the next row, or io.EOF. Empty cells are omitted.
func (c *CSVReader) Next() (Row, error) {
	for {
		rec, err := c.r.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading line %d", c.line+2)
		}
		c.line++
		row := make(Row, len(rec))
		empty := true
		for i, v := range rec {
			if i >= len(c.keys) || v == "" {
				continue
			}
			row[c.keys[i]] = v
			empty = false
		}
		if empty {
			continue
		}
		return row, nil
	}
}

// Close closes the file.
func (c *CSVReader) Close() error { return c.f.Close() }

// NDJSONReader reads rows written by NDJSONWriter.
type NDJSONReader struct {
	f   *os.File
	dec *json.Decoder
}

// OpenNDJSON opens a file holding one JSON object per line.
func OpenNDJSON(path string) (*NDJSONReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()
	return &NDJSONReader{f: f, dec: dec}, nil
}

// Next returns the next row, or io.EOF.
func (n *NDJSONReader) Next() (Row, error) {
	var row Row
	if err := n.dec.Decode(&row); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "decoding row")
	}
	for k, v := range row {
		if num, ok := v.(json.Number); ok {
			row[k] = num.String()
		}
	}
	return row, nil
}

// Close closes the file.
func (n *NDJSONReader) Close() error { return n.f.Close() }

// NDJSONWriter writes rows to a temporary file renamed into place on Commit.
type NDJSONWriter struct {
	path string
	tmp  *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// CreateNDJSON starts writing rows destined to path.
func CreateNDJSON(path string) (*NDJSONWriter, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".full-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary file")
	}
	w := bufio.NewWriter(tmp)
	return &NDJSONWriter{path: path, tmp: tmp, w: w, enc: json.NewEncoder(w)}, nil
}

// Write appends a row.
func (n *NDJSONWriter) Write(row Row) error {
	return errors.Wrap(n.enc.Encode(row), "writing row")
}

// Commit flushes the rows and atomically replaces the destination file.
func (n *NDJSONWriter) Commit() error {
	if err := n.w.Flush(); err != nil {
		n.Abort()
		return errors.Wrap(err, "flushing rows")
	}
	if err := n.tmp.Close(); err != nil {
		os.Remove(n.tmp.Name())
		return errors.Wrap(err, "closing rows file")
	}
	return errors.Wrap(os.Rename(n.tmp.Name(), n.path), "renaming rows file")
}

// Abort discards everything written so far.
func (n *NDJSONWriter) Abort() {
	n.tmp.Close()
	os.Remove(n.tmp.Name())
}
