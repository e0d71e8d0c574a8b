package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Format is a supported export format, identified by file extension.
type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// AllFormats lists every format the loader understands.
var AllFormats = []Format{FormatXML, FormatJSON, FormatCSV, FormatXLSX}

var (
	// ErrUnreadable marks a source directory that cannot be listed. It is
	// fatal for the run.
	ErrUnreadable = eris.New("source directory unreadable")
	// ErrUnsupportedFormat is returned for an unknown format name.
	ErrUnsupportedFormat = eris.New("unsupported source format")
)

// ParseFormats converts configured format names into Formats.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(n), ".")))
		switch f {
		case FormatXML, FormatJSON, FormatCSV, FormatXLSX:
			out = append(out, f)
		default:
			return nil, eris.Wrapf(ErrUnsupportedFormat, "format %q", n)
		}
	}
	return out, nil
}

// FileError records a file that could not be read completely.
type FileError struct {
	File string
	Err  error
}

// Batch is everything read from one source directory, in batch order:
// files sorted by name, entries in file order.
type Batch struct {
	Files      []string
	Entries    []Entry
	FileErrors []FileError
}

// Loader reads every supported export in a directory.
type Loader struct {
	Formats      []Format
	XMLElement   string
	CSVDelimiter rune
}

// NewLoader creates a Loader with the default element name and delimiter.
func NewLoader(formats []Format) *Loader {
	if len(formats) == 0 {
		formats = AllFormats
	}
	return &Loader{
		Formats:      formats,
		XMLElement:   DefaultXMLElement,
		CSVDelimiter: DefaultCSVDelimiter,
	}
}

// Files lists the files in dir the loader will read, sorted by name.
// Subdirectories are walked too, so a dump split by legislature works.
func (l *Loader) Files(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(ErrUnreadable, "%s: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, eris.Wrapf(ErrUnreadable, "%s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := l.formatOf(path); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(ErrUnreadable, "walk %s: %v", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) formatOf(path string) (Format, bool) {
	ext := Format(strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")))
	for _, f := range l.Formats {
		if f == ext {
			return f, true
		}
	}
	return "", false
}

// Load reads every export under dir. Only an unreadable directory is an
// error; a file that fails part-way keeps the entries decoded before the
// failure and is reported in Batch.FileErrors.
func (l *Loader) Load(ctx context.Context, dir string) (*Batch, error) {
	log := zap.L().With(zap.String("component", "source.loader"))

	files, err := l.Files(dir)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Files: files}
	for _, path := range files {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "source: load cancelled")
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		n, err := l.readFile(ctx, path, rel, func(e Entry) {
			batch.Entries = append(batch.Entries, e)
		})
		if err != nil {
			log.Warn("source file read incompletely",
				zap.String("file", rel),
				zap.Int("entries_read", n),
				zap.Error(err),
			)
			batch.FileErrors = append(batch.FileErrors, FileError{File: rel, Err: err})
			continue
		}
		log.Debug("source file read", zap.String("file", rel), zap.Int("entries", n))
	}

	return batch, nil
}

// readFile streams one file through the reader for its format, calling emit
// for every entry. It returns the number of entries emitted.
func (l *Loader) readFile(ctx context.Context, path, name string, emit func(Entry)) (int, error) {
	format, _ := l.formatOf(path)

	var (
		entries <-chan Entry
		errs    <-chan error
	)
	switch format {
	case FormatXLSX:
		entries, errs = StreamXLSX(ctx, path, name)
	default:
		f, err := os.Open(path)
		if err != nil {
			return 0, eris.Wrapf(err, "source: open %s", name)
		}
		defer f.Close() //nolint:errcheck

		switch format {
		case FormatXML:
			entries, errs = StreamXML(ctx, f, l.XMLElement, name)
		case FormatJSON:
			entries, errs = StreamJSON(ctx, f, name)
		case FormatCSV:
			entries, errs = StreamCSV(ctx, f, l.CSVDelimiter, name)
		default:
			return 0, eris.Wrapf(ErrUnsupportedFormat, "%s", name)
		}
	}

	n := 0
	for e := range entries {
		emit(e)
		n++
	}
	for err := range errs {
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
