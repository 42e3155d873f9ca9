// Package sniffer reads raw export bytes (CSV/TSV or XLSX) into records.
// It identifies delimiters and the header row, and generates fingerprints
// for recognizing a previously saved export shape.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/encoding/charmap"
)

// MaxHeaderScan bounds how many leading rows are searched for the header.
const MaxHeaderScan = 20

// Kind is the container format of an upload.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindXLSX Kind = "xlsx"
)

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrUnreadableFile = errors.New("file is unreadable")
	ErrHeaderNotFound = errors.New("could not find header row")
)

// Common bank statement header keywords (multi-language)
var headerKeywords = []string{
	// Portuguese
	"data mov", "descrição", "descricao", "débito", "debito", "crédito", "credito",
	"data valor", "montante", "saldo", "categoria",
	// English
	"date", "description", "amount", "debit", "credit", "balance", "category", "merchant",
	"memo", "reference", "payee",
	// Spanish
	"fecha", "descripción", "descripcion", "importe", "cargo", "abono",
}

var headerMatcher = ahocorasick.NewStringMatcher(headerKeywords)

// Options allows callers to override header row or delimiter detection.
type Options struct {
	// HeaderIndex is a 0-based record index for the header row. Set to -1 to auto-detect.
	HeaderIndex int
	// Delimiter overrides the detected delimiter when non-zero.
	Delimiter rune
}

// DefaultOptions auto-detects everything.
func DefaultOptions() Options {
	return Options{HeaderIndex: -1}
}

// File is an upload split into records with its header located.
type File struct {
	Filename    string
	Kind        Kind
	Delimiter   rune       // zero for XLSX
	Records     [][]string // every record, preamble included
	HeaderIndex int        // number of records before the header
	Headers     []string
	Fingerprint string // SHA256 of normalized headers
}

// DataRows returns the records after the header.
func (f *File) DataRows() [][]string {
	return f.Records[f.HeaderIndex+1:]
}

// Samples returns up to n non-blank data rows.
func (f *File) Samples(n int) [][]string {
	var rows [][]string
	for _, r := range f.DataRows() {
		if IsBlank(r) {
			continue
		}
		rows = append(rows, r)
		if len(rows) >= n {
			break
		}
	}
	return rows
}

// RowCount counts the non-blank data rows.
func (f *File) RowCount() int {
	n := 0
	for _, r := range f.DataRows() {
		if !IsBlank(r) {
			n++
		}
	}
	return n
}

// Read splits data into records and locates the header row.
func Read(data []byte, filename string, opts Options) (*File, error) {
	records, kind, delimiter, err := ReadRecords(data, filename, opts.Delimiter)
	if err != nil {
		return nil, err
	}
	file, err := Locate(records, opts.HeaderIndex)
	if err != nil {
		return nil, err
	}
	file.Filename = filename
	file.Kind = kind
	file.Delimiter = delimiter
	return file, nil
}

// Locate finds the header row of already split records. A negative
// headerIndex auto-detects it.
func Locate(records [][]string, headerIndex int) (*File, error) {
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	var err error
	if headerIndex < 0 {
		headerIndex, err = findHeaderRow(records)
		if err != nil {
			return nil, err
		}
	} else if headerIndex >= len(records) {
		return nil, fmt.Errorf("%w: header row %d beyond %d records", ErrHeaderNotFound, headerIndex, len(records))
	}

	headers := make([]string, len(records[headerIndex]))
	for i, h := range records[headerIndex] {
		headers[i] = strings.TrimSpace(h)
	}
	if !printableHeaders(headers) {
		return nil, fmt.Errorf("%w: header row has no readable column names", ErrUnreadableFile)
	}

	file := &File{
		Records:     records,
		HeaderIndex: headerIndex,
		Headers:     headers,
		Fingerprint: Fingerprint(headers),
	}
	if file.RowCount() == 0 {
		return nil, fmt.Errorf("%w: no data rows after header", ErrEmptyFile)
	}
	return file, nil
}

// ReadRecords returns every record of the upload without interpreting any of them.
// A non-zero delimiter skips delimiter detection for CSV input.
func ReadRecords(data []byte, filename string, delimiter rune) ([][]string, Kind, rune, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", 0, ErrEmptyFile
	}

	if isXLSX(data, filename) {
		records, err := readExcel(data)
		if err != nil {
			return nil, "", 0, err
		}
		if len(records) == 0 {
			return nil, "", 0, ErrEmptyFile
		}
		return records, KindXLSX, 0, nil
	}

	text := Normalize(data)
	if looksBinary(text) {
		return nil, "", 0, fmt.Errorf("%w: binary content", ErrUnreadableFile)
	}

	if delimiter == 0 {
		delimiter = detectFileDelimiter(text)
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // Allow variable fields

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", 0, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, "", 0, ErrEmptyFile
	}
	return records, KindCSV, delimiter, nil
}

// Normalize strips a UTF-8 BOM and decodes Windows-1252/Latin-1 input to UTF-8.
func Normalize(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

// IsBlank reports whether every cell of the record is whitespace.
func IsBlank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// findHeaderRow returns the first row within the first MaxHeaderScan records
// that is as wide as the widest row scanned. Data rows never precede the
// header, so a later row of the same width cannot win however many header
// keywords it contains. A row one cell short still qualifies when it carries
// at least two keywords, which covers headers with a blank column title.
func findHeaderRow(records [][]string) (int, error) {
	scan := records[:min(len(records), MaxHeaderScan)]

	widest := 0
	for _, record := range scan {
		widest = max(widest, nonEmptyCells(record))
	}

	if widest >= 2 {
		for i, record := range scan {
			count := nonEmptyCells(record)
			if count == widest {
				return i, nil
			}
			if count >= 2 && count == widest-1 && keywordMatches(record) >= 2 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: scanned %d rows", ErrHeaderNotFound, len(scan))
}

func keywordMatches(record []string) int {
	lower := strings.ToLower(strings.Join(record, " "))
	return len(headerMatcher.Match([]byte(lower)))
}

func nonEmptyCells(record []string) int {
	n := 0
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

// detectFileDelimiter votes across the leading lines so a single metadata line cannot decide.
func detectFileDelimiter(text []byte) rune {
	votes := make(map[rune]int)
	lines := strings.Split(string(text), "\n")
	seen := 0
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		if d, count := detectDelimiter(line); count > 0 {
			votes[d] += count
		}
		seen++
		if seen >= MaxHeaderScan {
			break
		}
	}

	best, bestVotes := ',', 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		if votes[d] > bestVotes {
			best, bestVotes = d, votes[d]
		}
	}
	return best
}

func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{';', '\t', ',', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}

// looksBinary flags NUL bytes or a high share of control characters in the first 4 KiB.
func looksBinary(text []byte) bool {
	head := text
	if len(head) > 4096 {
		head = head[:4096]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	control, total := 0, 0
	for _, r := range string(head) {
		total++
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t') {
			control++
		}
	}
	return total > 0 && control*10 > total
}

func printableHeaders(headers []string) bool {
	for _, h := range headers {
		if h == "" {
			continue
		}
		for _, r := range h {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}

func isXLSX(data []byte, filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".xlsx" || ext == ".xlsm" {
		return true
	}
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

// Fingerprint creates a stable hash from header names
func Fingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}
