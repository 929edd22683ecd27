package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds a single record; anything larger is treated as a
// corrupt source, not a per-row error.
const maxLineBytes = 1 << 20

// Candidate is one extracted unit of a batch: either a decoded record or a
// per-row decode error. The reader keeps going after decode errors.
type Candidate struct {
	Line   int
	Record *RawRecord
	Err    error
}

// BatchReader streams candidate records out of a JSONL source one line at a
// time, tracking the total row count regardless of validity. It is a lazy,
// single-pass producer and never holds the whole source in memory.
type BatchReader struct {
	scanner *bufio.Scanner
	line    int
	rows    int
}

func NewBatchReader(r io.Reader) *BatchReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &BatchReader{scanner: scanner}
}

// Next returns the next candidate record. It returns io.EOF after the last
// row, or the underlying read error if the source itself is unreadable; in
// that case Rows still reflects every row observed before the failure.
func (b *BatchReader) Next() (*Candidate, error) {
	for b.scanner.Scan() {
		b.line++
		line := bytes.TrimSpace(b.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		b.rows++
		var record RawRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return &Candidate{
				Line: b.line,
				Err:  fmt.Errorf("line %d: malformed record: %w", b.line, err),
			}, nil
		}
		return &Candidate{Line: b.line, Record: &record}, nil
	}

	if err := b.scanner.Err(); err != nil {
		return nil, fmt.Errorf("batch source unreadable at line %d: %w", b.line+1, err)
	}
	return nil, io.EOF
}

// Rows is the running count of candidate rows observed so far, including
// malformed ones. Blank lines are not counted.
func (b *BatchReader) Rows() int {
	return b.rows
}
