package source

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// StreamXLSX reads the first sheet of a spreadsheet export. The first row
// names the columns; each following non-blank row becomes one entry.
func StreamXLSX(ctx context.Context, path, file string) (<-chan Entry, <-chan error) {
	outCh := make(chan Entry, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrapf(err, "xlsx: open %s", file)
			return
		}
		if len(f.Sheets) == 0 {
			return
		}

		var header []string
		index := 0
		for i, row := range f.Sheets[0].Rows {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}

			cells := rowToStrings(row)
			if i == 0 {
				header = cells
				continue
			}
			if blankRow(cells) {
				continue
			}

			select {
			case outCh <- Entry{Raw: fromColumns(header, cells), Origin: Origin{File: file, Index: index}}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
			index++
		}
	}()

	return outCh, errCh
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
