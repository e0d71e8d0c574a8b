package source

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultXMLElement is the repeated element wrapping one initiative in the
// Congreso XML exports (<results><result>...</result></results>).
const DefaultXMLElement = "result"

// StreamXML decodes every element named element into a RawInitiative and
// sends it on the entry channel. Non-UTF-8 exports (ISO-8859-1 is common)
// are transcoded via their declared charset. Both channels are closed when
// processing completes; a decode error ends the stream.
func StreamXML(ctx context.Context, r io.Reader, element, file string) (<-chan Entry, <-chan error) {
	outCh := make(chan Entry, 64)
	errCh := make(chan error, 1)
	if element == "" {
		element = DefaultXMLElement
	}

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := xml.NewDecoder(r)
		decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		}

		index := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}

			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "xml: read token in %s", file)
				return
			}

			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != element {
				continue
			}

			var raw RawInitiative
			if err := decoder.DecodeElement(&raw, &se); err != nil {
				errCh <- eris.Wrapf(err, "xml: decode %s #%d in %s", element, index, file)
				return
			}

			select {
			case outCh <- Entry{Raw: raw, Origin: Origin{File: file, Index: index}}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
			index++
		}
	}()

	return outCh, errCh
}
