package source

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// DefaultCSVDelimiter is the separator used by the Congreso CSV exports.
const DefaultCSVDelimiter = ';'

// StreamCSV reads a CSV export whose first row names the columns and streams
// one entry per data row. Rows that are entirely empty are ignored.
func StreamCSV(ctx context.Context, r io.Reader, delimiter rune, file string) (<-chan Entry, <-chan error) {
	outCh := make(chan Entry, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if delimiter == 0 {
			delimiter = DefaultCSVDelimiter
		}
		reader.Comma = delimiter
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrapf(err, "csv: read header in %s", file)
			return
		}

		index := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "csv: read row #%d in %s", index, file)
				return
			}
			if blankRow(record) {
				continue
			}

			select {
			case outCh <- Entry{Raw: fromColumns(header, record), Origin: Origin{File: file, Index: index}}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
			index++
		}
	}()

	return outCh, errCh
}

func blankRow(row []string) bool {
	for _, c := range row {
		if Text(c).String() != "" {
			return false
		}
	}
	return true
}
