package ingestion

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

const (
	mimeCSV  = "text/csv"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeXLSM = "application/vnd.ms-excel.sheet.macroEnabled.12"
)

// Record is one data row of a source file keyed by header.
type Record struct {
	// Row is the 1-based row number in the file; the header is row 1.
	Row    int
	Values map[string]string
}

// Blank reports whether every cell of r is empty.
func (r Record) Blank() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ReadRecords parses a CSV or Excel workbook. The first row holds the headers.
func ReadRecords(fileName string, data []byte) ([]Record, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	var (
		rows [][]string
		err  error
	)
	switch ext {
	case ".csv":
		rows, err = readCSV(data)
	case ".xlsx", ".xlsm":
		rows, err = readExcel(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return toRecords(rows)
}

// ImportTypeFor maps a file extension onto the import type of a batch.
func ImportTypeFor(fileName string) (domain.ImportType, error) {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv":
		return domain.ImportTypeCSV, nil
	case ".xlsx", ".xlsm":
		return domain.ImportTypeExcel, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// FileMetadataFor describes an uploaded file for the batch record.
func FileMetadataFor(fileName string, data []byte) domain.FileMetadata {
	sum := sha256.Sum256(data)
	return domain.FileMetadata{
		Name:     filepath.Base(fileName),
		Path:     fileName,
		Size:     int64(len(data)),
		Hash:     hex.EncodeToString(sum[:]),
		MimeType: mimeTypeFor(fileName, data),
	}
}

func mimeTypeFor(fileName string, data []byte) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return mimeCSV
	case ".xlsx":
		return mimeXLSX
	case ".xlsm":
		return mimeXLSM
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return http.DetectContentType(head)
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from %s: %w", sheets[0], err)
	}
	return rows, nil
}

func toRecords(rows [][]string) ([]Record, error) {
	if len(rows) == 0 || len(cleanRow(rows[0])) == 0 {
		return nil, errors.New("header row is missing")
	}
	headers := sanitizeHeaders(rows[0])

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		values := make(map[string]string, len(headers))
		for col, header := range headers {
			if col < len(row) {
				values[header] = strings.TrimSpace(row[col])
			} else {
				values[header] = ""
			}
		}
		records = append(records, Record{Row: i + 2, Values: values})
	}
	return records, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// sanitizeHeaders trims header cells, names blank ones after their position and
// suffixes repeats.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		key := strings.ToLower(name)
		count := seen[key]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", name, count+1)
		}
		seen[key] = count + 1

		headers[idx] = name
	}
	return headers
}
