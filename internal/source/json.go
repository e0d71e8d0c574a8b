package source

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// StreamJSON decodes a JSON export and streams its initiatives. Two shapes
// are accepted: a top-level array of objects, or an object whose first
// array-valued member holds them (e.g. {"iniciativas": [...]}). A malformed
// file ends the stream with an error; an element of the wrong shape is sent
// as an Entry with Err set and the stream continues.
func StreamJSON(ctx context.Context, r io.Reader, file string) (<-chan Entry, <-chan error) {
	outCh := make(chan Entry, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrapf(err, "json: read opening token in %s", file)
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok {
			errCh <- eris.Errorf("json: expected '[' or '{' in %s, got %v", file, tok)
			return
		}
		if delim == '{' {
			if err := seekArray(decoder); err != nil {
				errCh <- eris.Wrapf(err, "json: locate initiative array in %s", file)
				return
			}
		} else if delim != '[' {
			errCh <- eris.Errorf("json: expected '[' or '{' in %s, got %v", file, delim)
			return
		}

		index := 0
		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			// Only a syntax or read error ends the file. A well-formed element
			// that does not fit the schema is emitted as a failed entry.
			var doc json.RawMessage
			if err := decoder.Decode(&doc); err != nil {
				errCh <- eris.Wrapf(err, "json: decode element #%d in %s", index, file)
				return
			}
			entry := Entry{Origin: Origin{File: file, Index: index}}
			if err := json.Unmarshal(doc, &entry.Raw); err != nil {
				entry.Raw = RawInitiative{}
				entry.Err = eris.Wrapf(err, "json: element #%d in %s", index, file)
			}

			select {
			case outCh <- entry:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
			index++
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrapf(err, "json: read closing token in %s", file)
		}
	}()

	return outCh, errCh
}

// seekArray advances an object decoder to just past the '[' of the first
// array-valued member. Other members are skipped.
func seekArray(decoder *json.Decoder) error {
	for decoder.More() {
		if _, err := decoder.Token(); err != nil { // member name
			return err
		}
		tok, err := decoder.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			if d == '[' {
				return nil
			}
			if err := skipValue(decoder); err != nil {
				return err
			}
		}
	}
	return eris.New("no array member found")
}

// skipValue consumes the rest of a composite value whose opening delimiter
// has already been read.
func skipValue(decoder *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := decoder.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '[', '{':
				depth++
			case ']', '}':
				depth--
			}
		}
	}
	return nil
}
