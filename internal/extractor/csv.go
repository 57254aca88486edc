// Package extractor reads raw retail-transaction records from a row-oriented
// CSV source, chunked in configurable blocks so the pipeline never holds the
// whole file in memory. Fields are looked up through a header index rather
// than by position, so column order in the source file does not matter.
// Opening the source retries with backoff via internal/retry.
package extractor

import (
	"context"
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/internal/retry"
	"github.com/retaildw/platform/pkg/types"
)

var requiredColumns = []string{
	"InvoiceNo", "StockCode", "Description", "Quantity",
	"InvoiceDate", "UnitPrice", "CustomerID", "Country",
}

// CSVExtractor streams RawRecords from a header'd CSV file, one at a time,
// reading the underlying file in chunkSize-row blocks.
type CSVExtractor struct {
	path       string
	delimiter  rune
	chunkSize  int
	maxRetries int
	retryDelay time.Duration

	file   *os.File
	reader *csv.Reader
	header map[string]int

	buffer []types.RawRecord
	bufPos int
	eof    bool
}

// Option configures a CSVExtractor at construction.
type Option func(*CSVExtractor)

// WithDelimiter overrides the default comma delimiter.
func WithDelimiter(d rune) Option { return func(e *CSVExtractor) { e.delimiter = d } }

// WithChunkSize overrides the default 1000-row chunk size.
func WithChunkSize(n int) Option {
	return func(e *CSVExtractor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithRetry overrides the I/O retry budget used while opening the source.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(e *CSVExtractor) {
		e.maxRetries = maxRetries
		e.retryDelay = delay
	}
}

// New builds a CSVExtractor for path. The file is not opened until Open is
// called.
func New(path string, opts ...Option) *CSVExtractor {
	e := &CSVExtractor{
		path:       path,
		delimiter:  ',',
		chunkSize:  1000,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open opens the source file, reads and validates the header row, and
// retries the open with exponential backoff on I/O failure (a remote or
// slow filesystem mount may be transiently unavailable).
func (e *CSVExtractor) Open(ctx context.Context) error {
	err := retry.Do(ctx, e.maxRetries, e.retryDelay, func() error {
		f, openErr := os.Open(e.path)
		if openErr != nil {
			return openErr
		}
		e.file = f
		return nil
	})
	if err != nil {
		return errors.Wrapf(errs.ErrSourceUnavailable, "opening %s: %v", e.path, err)
	}

	r := csv.NewReader(e.file)
	r.Comma = e.delimiter
	r.TrimLeadingSpace = true
	e.reader = r

	headerRow, err := r.Read()
	if err != nil {
		e.file.Close()
		return errors.Wrapf(errs.ErrSourceUnavailable, "reading header: %v", err)
	}

	header := make(map[string]int, len(headerRow))
	for i, col := range headerRow {
		header[strings.TrimSpace(col)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := header[col]; !ok {
			e.file.Close()
			return errors.Wrapf(errs.ErrSourceUnavailable, "missing required column %q", col)
		}
	}
	e.header = header
	return nil
}

// Next returns the next raw record, ok=false once the source is exhausted.
// Internally it refills an in-memory chunk of up to chunkSize rows whenever
// the buffer runs dry, so a caller pulling one record at a time still only
// ever triggers a bounded-size read against the file.
func (e *CSVExtractor) Next(ctx context.Context) (types.RawRecord, bool, error) {
	if e.bufPos >= len(e.buffer) {
		if e.eof {
			return types.RawRecord{}, false, nil
		}
		if err := e.fillChunk(ctx); err != nil {
			return types.RawRecord{}, false, err
		}
		if e.bufPos >= len(e.buffer) {
			return types.RawRecord{}, false, nil
		}
	}

	rec := e.buffer[e.bufPos]
	e.bufPos++
	return rec, true, nil
}

func (e *CSVExtractor) fillChunk(ctx context.Context) error {
	e.buffer = e.buffer[:0]
	e.bufPos = 0

	get := func(row []string, name string) string {
		idx, ok := e.header[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	for len(e.buffer) < e.chunkSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		row, err := e.reader.Read()
		if err == io.EOF {
			e.eof = true
			break
		}
		if err != nil {
			// A malformed CSV line (wrong field count) is a source-level
			// read error, not a single-record rejection: the reader's
			// cursor position after such an error is unreliable.
			return errors.Wrapf(errs.ErrSourceUnavailable, "reading CSV row: %v", err)
		}

		e.buffer = append(e.buffer, types.RawRecord{
			InvoiceNo:   get(row, "InvoiceNo"),
			StockCode:   get(row, "StockCode"),
			Description: get(row, "Description"),
			Quantity:    get(row, "Quantity"),
			InvoiceDate: get(row, "InvoiceDate"),
			UnitPrice:   get(row, "UnitPrice"),
			CustomerID:  get(row, "CustomerID"),
			Country:     get(row, "Country"),
		})
	}
	return nil
}

// Close releases the underlying file handle.
func (e *CSVExtractor) Close() error {
	if e.file == nil {
		return nil
	}
	return e.file.Close()
}

// FileHash returns the first 16 hex characters of the MD5 digest of the
// source file's bytes, used by Versioning for data_versions.file_hash. It
// reads the file independently of the streaming cursor, so it may be called
// before, during, or after extraction.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening source for hashing")
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "hashing source")
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
