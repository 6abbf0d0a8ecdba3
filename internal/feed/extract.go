// Package feed turns a raw inventory feed attachment into a validated
// Snapshot. Extraction is pure: it never performs I/O beyond reading the
// in-memory payload.
package feed

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Columns names the CSV headers mapped onto Row fields.
type Columns struct {
	Key         string
	Description string
	Quantity    string
}

// Options configures an Extractor.
type Options struct {
	// CSVName is the base name of the tabular entry inside the archive,
	// matched case-insensitively.
	CSVName string
	Columns Columns
}

// DefaultOptions matches the WheelPros inventory feed layout.
func DefaultOptions() Options {
	return Options{
		CSVName: "wheelInvPriceData.csv",
		Columns: Columns{
			Key:         "PartNumber",
			Description: "PartDescription",
			Quantity:    "TotalQOH",
		},
	}
}

// Extractor validates and parses feed payloads.
type Extractor struct {
	opts Options
}

// NewExtractor returns an Extractor. Empty option fields fall back to
// DefaultOptions.
func NewExtractor(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.CSVName == "" {
		opts.CSVName = def.CSVName
	}
	if opts.Columns.Key == "" {
		opts.Columns.Key = def.Columns.Key
	}
	if opts.Columns.Description == "" {
		opts.Columns.Description = def.Columns.Description
	}
	if opts.Columns.Quantity == "" {
		opts.Columns.Quantity = def.Columns.Quantity
	}
	return &Extractor{opts: opts}
}

// Extract opens the zip payload, locates the CSV entry and parses every row.
// Any problem rejects the whole feed with a *MalformedError; no partial
// snapshot is ever returned.
func (e *Extractor) Extract(messageID string, capturedAt time.Time, payload []byte) (Snapshot, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return Snapshot{}, &MalformedError{Kind: KindContainer, Detail: "opening zip archive", Err: err}
	}

	entry := e.findEntry(zr)
	if entry == nil {
		names := make([]string, 0, len(zr.File))
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		return Snapshot{}, &MalformedError{
			Kind:   KindPayloadMissing,
			Detail: fmt.Sprintf("%s not found in archive (entries: %s)", e.opts.CSVName, strings.Join(names, ", ")),
		}
	}

	rc, err := entry.Open()
	if err != nil {
		return Snapshot{}, &MalformedError{Kind: KindContainer, Detail: "opening " + entry.Name, Err: err}
	}
	defer rc.Close()

	rows, err := e.parseCSV(rc)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(messageID, capturedAt, rows)
}

func (e *Extractor) findEntry(zr *zip.Reader) *zip.File {
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), e.opts.CSVName) {
			return f
		}
	}
	return nil
}

type columnIndex struct {
	key, desc, qty int
}

func (e *Extractor) parseCSV(r io.Reader) ([]Row, error) {
	// Feeds exported from spreadsheet tools often carry a UTF-8 BOM.
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &MalformedError{Kind: KindEmpty, Detail: "no header row"}
	}
	if err != nil {
		return nil, &MalformedError{Kind: KindInvalidRow, Line: 1, Detail: "reading header", Err: err}
	}

	idx, err := e.resolveColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			return nil, &MalformedError{Kind: KindInvalidRow, Line: line, Err: err}
		}
		line, _ := cr.FieldPos(0)

		row, err := e.parseRecord(rec, idx, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, &MalformedError{Kind: KindEmpty, Detail: "header present but no data rows"}
	}
	return rows, nil
}

func (e *Extractor) resolveColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idx := columnIndex{key: -1, desc: -1, qty: -1}
	var missing []string
	lookup := func(name string, dst *int) {
		if i, ok := pos[strings.ToLower(name)]; ok {
			*dst = i
			return
		}
		missing = append(missing, name)
	}
	lookup(e.opts.Columns.Key, &idx.key)
	lookup(e.opts.Columns.Description, &idx.desc)
	lookup(e.opts.Columns.Quantity, &idx.qty)

	if len(missing) > 0 {
		return idx, &MalformedError{
			Kind:   KindMissingColumns,
			Line:   1,
			Detail: fmt.Sprintf("missing columns %v (have %v)", missing, header),
		}
	}
	return idx, nil
}

func (e *Extractor) parseRecord(rec []string, idx columnIndex, line int) (Row, error) {
	sku := NormalizeSKU(rec[idx.key])
	if sku == "" {
		return Row{}, &MalformedError{Kind: KindInvalidRow, Line: line, Column: e.opts.Columns.Key, Detail: "empty key"}
	}

	qty, err := parseQuantity(rec[idx.qty])
	if err != nil {
		return Row{}, &MalformedError{Kind: KindInvalidRow, Line: line, Column: e.opts.Columns.Quantity, Err: err}
	}

	return Row{
		SKU:         sku,
		Description: strings.TrimSpace(rec[idx.desc]),
		Quantity:    qty,
	}, nil
}

// NormalizeSKU trims whitespace and strips leading zeros from all-digit
// keys, so "000123" and "123" address the same item.
func NormalizeSKU(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return s
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// parseQuantity accepts an optionally signed integer, optionally followed
// by a decimal point and zeros ("12", "-3", "12.0").
func parseQuantity(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errors.New("empty quantity")
	}
	whole, frac, _ := strings.Cut(s, ".")
	digits := strings.TrimPrefix(strings.TrimPrefix(whole, "+"), "-")
	if len(whole)-len(digits) > 1 || digits == "" || strings.IndexFunc(digits, notDigit) >= 0 {
		return 0, fmt.Errorf("quantity %q is not numeric", raw)
	}
	if strings.Trim(frac, "0") != "" {
		return 0, fmt.Errorf("quantity %q is not a whole number", raw)
	}
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("quantity %q is out of range", raw)
	}
	return n, nil
}

func notDigit(r rune) bool { return r < '0' || r > '9' }
