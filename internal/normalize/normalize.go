// Package normalize converts raw export entries into canonical initiatives.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/source"
)

// DateLayout is the day/month/year layout used by the exports. Day and month
// may have one or two digits.
const DateLayout = "2/1/2006"

// ErrMissingKey is reported when neither key field is populated.
var ErrMissingKey = eris.New("normalize: missing expediente")

// Result is the outcome of normalizing one raw entry. When Skip is set the
// Initiative is empty and Reason and Err say why.
type Result struct {
	Initiative model.Initiative
	Skip       bool
	Reason     string
	Err        error
	Warnings   []string
}

var (
	spaceRe    = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	keySplitRe = regexp.MustCompile(`[\s,;]+`)
)

// Normalize builds an Initiative from raw. It never fails: entries without a
// key are returned as a skip, and unparseable dates become unknown with a
// warning.
func Normalize(raw source.RawInitiative, origin source.Origin) Result {
	key := Line(raw.NumExpediente.String())
	if key == "" {
		key = Line(raw.Expediente.String())
	}
	if key == "" {
		return Result{Skip: true, Reason: model.SkipMissingKey, Err: ErrMissingKey}
	}

	var res Result
	date := func(field string, v source.Text) time.Time {
		t, err := ParseDate(v.String())
		if err != nil {
			res.Warnings = append(res.Warnings, field+": "+err.Error())
		}
		return t
	}

	kind := Line(raw.Tipo.String())
	if kind == "" {
		kind = Line(raw.Supertipo.String())
	}
	if kind == "" {
		kind = model.UnknownKind
	}

	res.Initiative = model.Initiative{
		Expediente:        key,
		Kind:              kind,
		Subject:           Line(raw.Objeto.String()),
		Promoter:          Line(raw.Autor.String()),
		SubmissionDate:    date("FECHAPRESENTACION", raw.FechaPresentacion),
		QualificationDate: date("FECHACALIFICACION", raw.FechaCalificacion),
		Legislature:       Line(raw.Legislatura.String()),
		ProcedureType:     Line(raw.TipoTramitacion.String()),
		Committee:         Line(raw.ComisionCompetente.String()),
		Rapporteurs:       Narrative(raw.Ponentes.String()),
		Deadlines:         Narrative(raw.Plazos.String()),
		ProcedureText:     Narrative(raw.TramitacionSeguida.String()),
		Outcome:           Line(raw.ResultadoTramitacion.String()),
		CurrentSituation:  Line(raw.SituacionActual.String()),
		RelatedKeys:       SplitKeys(raw.IniciativasRelacion.String()),
		OriginKeys:        SplitKeys(raw.IniciativasOrigen.String()),
		Links:             append(SplitKeys(raw.EnlacesBOCG.String()), SplitKeys(raw.EnlacesDS.String())...),
		SourceFile:        origin.File,
	}
	return res
}

// ParseDate parses a day/month/year date. A trailing time of day is
// ignored. Blank input is the unknown date and not an error.
func ParseDate(s string) (time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, fields[0])
	if err != nil {
		return time.Time{}, eris.Errorf("normalize: invalid date %q", s)
	}
	return t, nil
}

// SplitKeys splits a free-text list of keys on whitespace, commas, semicolons
// and newlines. Order is kept and duplicates are allowed. The result is never
// nil.
func SplitKeys(s string) []string {
	out := []string{}
	for _, tok := range keySplitRe.Split(s, -1) {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Line collapses all whitespace, including line breaks, to single spaces.
func Line(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Narrative normalises line endings and intra-line spacing but keeps one
// line per source line, dropping blank lines.
func Narrative(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(spaceRe.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Fold lowercases s, strips diacritics and trims it. It is the comparison
// form used for similarity and keyword matching.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(strings.ToLower(folded))
}
