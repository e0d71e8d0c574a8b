// Package source reads raw initiative exports (XML, JSON, CSV, XLSX) into a
// typed field schema. Nothing downstream of the normalizer sees these types.
package source

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Text is a scalar field value from a raw export. JSON exports are loosely
// typed, so numbers, booleans and null are all accepted and kept as text.
type Text string

// String returns the value with surrounding whitespace removed.
func (t Text) String() string { return strings.TrimSpace(string(t)) }

// IsEmpty reports whether the value is blank.
func (t Text) IsEmpty() bool { return t.String() == "" }

// UnmarshalJSON accepts strings, numbers, booleans, null and arrays of those
// (joined by newlines).
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return eris.Wrap(err, "source: decode text")
		}
		*t = Text(s)
	case '[':
		var items []Text
		if err := json.Unmarshal(b, &items); err != nil {
			return eris.Wrap(err, "source: decode text list")
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if !it.IsEmpty() {
				parts = append(parts, it.String())
			}
		}
		*t = Text(strings.Join(parts, "\n"))
	case '{':
		return eris.New("source: object where scalar field expected")
	default:
		*t = Text(string(b))
	}
	return nil
}

// RawInitiative is the explicit field schema of one exported initiative.
// Every field is optional here; the normalizer decides what is required.
type RawInitiative struct {
	NumExpediente        Text `xml:"NUMEXPEDIENTE" json:"NUMEXPEDIENTE"`
	Expediente           Text `xml:"EXPEDIENTE" json:"EXPEDIENTE"`
	Legislatura          Text `xml:"LEGISLATURA" json:"LEGISLATURA"`
	Supertipo            Text `xml:"SUPERTIPO" json:"SUPERTIPO"`
	Agrupacion           Text `xml:"AGRUPACION" json:"AGRUPACION"`
	Tipo                 Text `xml:"TIPO" json:"TIPO"`
	Objeto               Text `xml:"OBJETO" json:"OBJETO"`
	Autor                Text `xml:"AUTOR" json:"AUTOR"`
	FechaPresentacion    Text `xml:"FECHAPRESENTACION" json:"FECHAPRESENTACION"`
	FechaCalificacion    Text `xml:"FECHACALIFICACION" json:"FECHACALIFICACION"`
	TipoTramitacion      Text `xml:"TIPOTRAMITACION" json:"TIPOTRAMITACION"`
	ComisionCompetente   Text `xml:"COMISIONCOMPETENTE" json:"COMISIONCOMPETENTE"`
	Ponentes             Text `xml:"PONENTES" json:"PONENTES"`
	Plazos               Text `xml:"PLAZOS" json:"PLAZOS"`
	TramitacionSeguida   Text `xml:"TRAMITACIONSEGUIDA" json:"TRAMITACIONSEGUIDA"`
	ResultadoTramitacion Text `xml:"RESULTADOTRAMITACION" json:"RESULTADOTRAMITACION"`
	SituacionActual      Text `xml:"SITUACIONACTUAL" json:"SITUACIONACTUAL"`
	IniciativasRelacion  Text `xml:"INICIATIVASRELACIONADAS" json:"INICIATIVASRELACIONADAS"`
	IniciativasOrigen    Text `xml:"INICIATIVASDEORIGEN" json:"INICIATIVASDEORIGEN"`
	EnlacesBOCG          Text `xml:"ENLACESBOCG" json:"ENLACESBOCG"`
	EnlacesDS            Text `xml:"ENLACESDS" json:"ENLACESDS"`
}

// columnSetters maps export column names (see columnKey) to fields. Tabular
// exports (CSV, XLSX) use it to build a RawInitiative from a header row.
var columnSetters = map[string]func(*RawInitiative, string){
	"NUMEXPEDIENTE":           func(r *RawInitiative, v string) { r.NumExpediente = Text(v) },
	"EXPEDIENTE":              func(r *RawInitiative, v string) { r.Expediente = Text(v) },
	"LEGISLATURA":             func(r *RawInitiative, v string) { r.Legislatura = Text(v) },
	"SUPERTIPO":               func(r *RawInitiative, v string) { r.Supertipo = Text(v) },
	"AGRUPACION":              func(r *RawInitiative, v string) { r.Agrupacion = Text(v) },
	"TIPO":                    func(r *RawInitiative, v string) { r.Tipo = Text(v) },
	"OBJETO":                  func(r *RawInitiative, v string) { r.Objeto = Text(v) },
	"AUTOR":                   func(r *RawInitiative, v string) { r.Autor = Text(v) },
	"FECHAPRESENTACION":       func(r *RawInitiative, v string) { r.FechaPresentacion = Text(v) },
	"FECHACALIFICACION":       func(r *RawInitiative, v string) { r.FechaCalificacion = Text(v) },
	"TIPOTRAMITACION":         func(r *RawInitiative, v string) { r.TipoTramitacion = Text(v) },
	"COMISIONCOMPETENTE":      func(r *RawInitiative, v string) { r.ComisionCompetente = Text(v) },
	"PONENTES":                func(r *RawInitiative, v string) { r.Ponentes = Text(v) },
	"PLAZOS":                  func(r *RawInitiative, v string) { r.Plazos = Text(v) },
	"TRAMITACIONSEGUIDA":      func(r *RawInitiative, v string) { r.TramitacionSeguida = Text(v) },
	"RESULTADOTRAMITACION":    func(r *RawInitiative, v string) { r.ResultadoTramitacion = Text(v) },
	"SITUACIONACTUAL":         func(r *RawInitiative, v string) { r.SituacionActual = Text(v) },
	"INICIATIVASRELACIONADAS": func(r *RawInitiative, v string) { r.IniciativasRelacion = Text(v) },
	"INICIATIVASDEORIGEN":     func(r *RawInitiative, v string) { r.IniciativasOrigen = Text(v) },
	"ENLACESBOCG":             func(r *RawInitiative, v string) { r.EnlacesBOCG = Text(v) },
	"ENLACESDS":               func(r *RawInitiative, v string) { r.EnlacesDS = Text(v) },
}

// columnKey canonicalises a header cell: "Num_Expediente " -> "NUMEXPEDIENTE".
func columnKey(h string) string {
	h = strings.ToUpper(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(h)
}

// fromColumns builds a RawInitiative from a header row and a data row.
// Unknown columns are ignored; short rows leave trailing fields empty.
func fromColumns(header, row []string) RawInitiative {
	var r RawInitiative
	for i, h := range header {
		if i >= len(row) {
			break
		}
		if set, ok := columnSetters[columnKey(h)]; ok {
			set(&r, row[i])
		}
	}
	return r
}

// Origin locates a raw entry within the batch.
type Origin struct {
	File  string `json:"file"`
	Index int    `json:"index"`
}

// Entry is one raw initiative together with where it came from. Err is set
// when the document was read but does not fit RawInitiative; Raw is then
// empty and the entry counts as a skipped document.
type Entry struct {
	Raw    RawInitiative
	Origin Origin
	Err    error
}
