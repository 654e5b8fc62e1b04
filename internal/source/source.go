package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocarina/gocsv"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	"easybook/internal/booking"
	"easybook/internal/config"
	appLog "easybook/internal/log"
)

var (
	// ErrNoCSV is returned when a drop directory holds no CSV export.
	ErrNoCSV = errors.New("source: no csv files found")
	// ErrEmptyInput is returned for a zero-byte export.
	ErrEmptyInput = errors.New("source: empty input")
)

// maxInputBytes caps one export read into memory.
const maxInputBytes = 32 << 20

// Batch is one decoded and parsed export.
type Batch struct {
	Name     string
	Encoding string
	ModTime  time.Time
	Rows     []booking.Row
}

// LatestCSV returns the most recently modified *.csv file directly inside
// dir.
func LatestCSV(dir string) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("source: read dir %s: %w", dir, err)
	}

	var (
		latest  string
		latestT time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			appLog.Debug("csv stat failed; skipping", "name", e.Name(), "err", err)
			continue
		}
		if latest == "" || info.ModTime().After(latestT) {
			latest = filepath.Join(dir, e.Name())
			latestT = info.ModTime()
		}
	}
	if latest == "" {
		return "", time.Time{}, ErrNoCSV
	}
	return latest, latestT, nil
}

// Decode converts raw export bytes to text. In auto mode, valid UTF-8 is
// taken as is and anything else is read as Shift-JIS. A leading UTF-8 BOM
// is dropped. The second result names the encoding that was used.
func Decode(data []byte, encoding string) (string, string, error) {
	if len(data) == 0 {
		return "", "", ErrEmptyInput
	}

	enc := strings.ToLower(encoding)
	if enc == "" || enc == config.EncodingAuto {
		if utf8.Valid(data) {
			enc = config.EncodingUTF8
		} else {
			enc = config.EncodingShiftJIS
		}
	}

	switch enc {
	case config.EncodingUTF8:
		out, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
		if err != nil {
			return "", "", fmt.Errorf("source: decode utf-8: %w", err)
		}
		return string(out), enc, nil
	case config.EncodingShiftJIS:
		out, err := japanese.ShiftJIS.NewDecoder().Bytes(data)
		if err != nil {
			return "", "", fmt.Errorf("source: decode shift_jis: %w", err)
		}
		return string(out), enc, nil
	default:
		return "", "", fmt.Errorf("source: unsupported encoding %q", encoding)
	}
}

func init() {
	gocsv.SetCSVReader(newRaggedReader)
}

// raggedReader accepts records whose field count differs from the header.
// Short records are padded with empty fields and extra fields are ignored
// by the header-keyed maps; both are logged.
type raggedReader struct {
	r      *csv.Reader
	header int
}

func newRaggedReader(in io.Reader) gocsv.CSVReader {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	return &raggedReader{r: r}
}

func (rr *raggedReader) Read() ([]string, error) {
	rec, err := rr.r.Read()
	if err != nil {
		return nil, err
	}
	if rr.header == 0 {
		rr.header = len(rec)
		return rec, nil
	}
	if len(rec) != rr.header {
		line, _ := rr.r.FieldPos(0)
		appLog.Warn("csv record field count differs from header",
			"line", line, "fields", len(rec), "header", rr.header)
		for len(rec) < rr.header {
			rec = append(rec, "")
		}
	}
	return rec, nil
}

func (rr *raggedReader) ReadAll() ([][]string, error) {
	var out [][]string
	for {
		rec, err := rr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// ParseRows reads header-keyed records from CSV text. Blank lines are
// skipped and ragged records are kept; a broken quote is an error.
func ParseRows(text string) ([]booking.Row, error) {
	records, err := gocsv.CSVToMaps(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("source: parse csv: %w", err)
	}
	rows := make([]booking.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, booking.Row(rec))
	}
	return rows, nil
}

// Read decodes and parses an export from r.
func Read(r io.Reader, name, encoding string) (Batch, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return Batch{}, fmt.Errorf("source: read %s: %w", name, err)
	}
	if len(data) > maxInputBytes {
		return Batch{}, fmt.Errorf("source: %s exceeds %d bytes", name, maxInputBytes)
	}

	text, used, err := Decode(data, encoding)
	if err != nil {
		return Batch{}, err
	}
	rows, err := ParseRows(text)
	if err != nil {
		return Batch{}, err
	}

	appLog.Debug("csv parsed", "name", name, "encoding", used, "rows", len(rows))
	return Batch{Name: name, Encoding: used, Rows: rows}, nil
}

// ReadFile is Read for a file on disk.
func ReadFile(path, encoding string) (Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()

	b, err := Read(f, filepath.Base(path), encoding)
	if err != nil {
		return Batch{}, err
	}
	if info, err := f.Stat(); err == nil {
		b.ModTime = info.ModTime()
	}
	return b, nil
}
