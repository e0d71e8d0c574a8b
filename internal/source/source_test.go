package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func drain(t *testing.T, entries <-chan Entry, errs <-chan error) ([]Entry, error) {
	t.Helper()
	var out []Entry
	for e := range entries {
		out = append(out, e)
	}
	var firstErr error
	for err := range errs {
		if firstErr == nil {
			firstErr = err
		}
	}
	return out, firstErr
}

func TestText_UnmarshalJSON(t *testing.T) {
	var r RawInitiative
	input := `{"NUMEXPEDIENTE":"121/000001","LEGISLATURA":15,"PONENTES":["Ana Ruiz", "", "Luis Gil"],"PLAZOS":null,"OBJETO":true}`
	require.NoError(t, json.Unmarshal([]byte(input), &r))

	assert.Equal(t, "121/000001", r.NumExpediente.String())
	assert.Equal(t, "15", r.Legislatura.String())
	assert.Equal(t, "Ana Ruiz\nLuis Gil", r.Ponentes.String())
	assert.True(t, r.Plazos.IsEmpty())
	assert.Equal(t, "true", r.Objeto.String())
}

func TestText_UnmarshalJSON_ObjectRejected(t *testing.T) {
	var r RawInitiative
	err := json.Unmarshal([]byte(`{"OBJETO":{"nested":1}}`), &r)
	assert.Error(t, err)
}

func TestStreamXML(t *testing.T) {
	input := `<?xml version="1.0" encoding="UTF-8"?>
<results>
  <result>
    <NUMEXPEDIENTE>121/000001</NUMEXPEDIENTE>
    <OBJETO>Proyecto de Ley de Protección del Medio Ambiente</OBJETO>
    <TRAMITACIONSEGUIDA>Comisión de Igualdad
desde 12/12/2023 hasta 15/12/2023</TRAMITACIONSEGUIDA>
  </result>
  <other>ignored</other>
  <result>
    <EXPEDIENTE>122/000002</EXPEDIENTE>
  </result>
</results>`

	stream, errs := StreamXML(context.Background(), strings.NewReader(input), "", "batch.xml")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "121/000001", entries[0].Raw.NumExpediente.String())
	assert.Contains(t, entries[0].Raw.TramitacionSeguida.String(), "desde 12/12/2023")
	assert.Equal(t, Origin{File: "batch.xml", Index: 0}, entries[0].Origin)
	assert.Equal(t, "122/000002", entries[1].Raw.Expediente.String())
	assert.Equal(t, 1, entries[1].Origin.Index)
}

func TestStreamXML_Latin1(t *testing.T) {
	// "Comisión" encoded as ISO-8859-1.
	input := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><results><result><COMISIONCOMPETENTE>Comisi\xf3n</COMISIONCOMPETENTE></result></results>"

	stream, errs := StreamXML(context.Background(), strings.NewReader(input), "result", "latin1.xml")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Comisión", entries[0].Raw.ComisionCompetente.String())
}

func TestStreamXML_MalformedKeepsEarlierEntries(t *testing.T) {
	input := `<results><result><NUMEXPEDIENTE>1</NUMEXPEDIENTE></result><result><OBJETO>broken</result></results>`

	stream, errs := StreamXML(context.Background(), strings.NewReader(input), "result", "bad.xml")
	entries, err := drain(t, stream, errs)
	require.Error(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].Raw.NumExpediente.String())
}

func TestStreamJSON_Array(t *testing.T) {
	input := `[{"NUMEXPEDIENTE":"1"},{"NUMEXPEDIENTE":"2","OBJETO":"x"}]`

	stream, errs := StreamJSON(context.Background(), strings.NewReader(input), "a.json")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[1].Raw.NumExpediente.String())
	assert.Equal(t, "x", entries[1].Raw.Objeto.String())
}

func TestStreamJSON_WrongShapeElementIsSkipped(t *testing.T) {
	input := `[{"NUMEXPEDIENTE":"1"},{"NUMEXPEDIENTE":"2","OBJETO":{"nested":1}},{"NUMEXPEDIENTE":"3"},{"NUMEXPEDIENTE":"4"}]`

	stream, errs := StreamJSON(context.Background(), strings.NewReader(input), "a.json")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	var keys []string
	var failed []Entry
	for _, e := range entries {
		if e.Err != nil {
			failed = append(failed, e)
			continue
		}
		keys = append(keys, e.Raw.NumExpediente.String())
	}
	assert.Equal(t, []string{"1", "3", "4"}, keys)
	require.Len(t, failed, 1)
	assert.Equal(t, Origin{File: "a.json", Index: 1}, failed[0].Origin)
	assert.Empty(t, failed[0].Raw.NumExpediente)
	assert.Contains(t, failed[0].Err.Error(), "element #1 in a.json")
	assert.Equal(t, 3, entries[3].Origin.Index)
}

func TestStreamJSON_WrappedObject(t *testing.T) {
	input := `{"meta":{"count":2,"tags":["a"]},"generated":"2024-01-01","iniciativas":[{"NUMEXPEDIENTE":"1"},{"NUMEXPEDIENTE":"2"}]}`

	stream, errs := StreamJSON(context.Background(), strings.NewReader(input), "b.json")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1", entries[0].Raw.NumExpediente.String())
}

func TestStreamJSON_Empty(t *testing.T) {
	stream, errs := StreamJSON(context.Background(), strings.NewReader(""), "empty.json")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStreamJSON_NotACollection(t *testing.T) {
	stream, errs := StreamJSON(context.Background(), strings.NewReader(`"hello"`), "str.json")
	_, err := drain(t, stream, errs)
	assert.Error(t, err)
}

func TestStreamCSV(t *testing.T) {
	input := "NUMEXPEDIENTE;OBJETO;Situacion_Actual\n121/000001;Ley de Aguas;Comisión\n;;\n122/000002;\"Ley; con separador\";\n"

	stream, errs := StreamCSV(context.Background(), strings.NewReader(input), 0, "c.csv")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Ley de Aguas", entries[0].Raw.Objeto.String())
	assert.Equal(t, "Comisión", entries[0].Raw.SituacionActual.String())
	assert.Equal(t, "Ley; con separador", entries[1].Raw.Objeto.String())
	assert.Equal(t, 1, entries[1].Origin.Index)
}

func writeXLSX(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Iniciativas")
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(path))
}

func TestStreamXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.xlsx")
	writeXLSX(t, path, [][]string{
		{"NUMEXPEDIENTE", "OBJETO", "RESULTADOTRAMITACION"},
		{"121/000001", "Ley de Aguas", "Aprobada"},
		{"", "", ""},
		{"121/000002", "Ley de Costas", ""},
	})

	stream, errs := StreamXLSX(context.Background(), path, "x.xlsx")
	entries, err := drain(t, stream, errs)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Aprobada", entries[0].Raw.ResultadoTramitacion.String())
	assert.Equal(t, "121/000002", entries[1].Raw.NumExpediente.String())
}

func TestColumnKey(t *testing.T) {
	assert.Equal(t, "NUMEXPEDIENTE", columnKey(" Num_Expediente "))
	assert.Equal(t, "SITUACIONACTUAL", columnKey("situacion actual"))
	assert.Equal(t, "NUMEXPEDIENTE", columnKey("\ufeffNUMEXPEDIENTE"))
}

func TestParseFormats(t *testing.T) {
	got, err := ParseFormats([]string{"XML", ".json", " csv "})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatXML, FormatJSON, FormatCSV}, got)

	_, err = ParseFormats([]string{"pdf"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`[{"NUMEXPEDIENTE":"2"},{"NUMEXPEDIENTE":"3"}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte(`<results><result><NUMEXPEDIENTE>1</NUMEXPEDIENTE></result></results>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "l14"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "l14", "c.csv"), []byte("NUMEXPEDIENTE\n4\n"), 0o644))

	batch, err := NewLoader(nil).Load(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, batch.Files, 3)
	assert.Empty(t, batch.FileErrors)
	require.Len(t, batch.Entries, 4)

	var keys []string
	for _, e := range batch.Entries {
		keys = append(keys, e.Raw.NumExpediente.String())
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, keys)
	assert.Equal(t, filepath.Join("l14", "c.csv"), batch.Entries[3].Origin.File)
}

func TestLoader_PartialFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[{"NUMEXPEDIENTE":"1"},{"NUMEXPEDIENTE":`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`[{"NUMEXPEDIENTE":"2"}]`), 0o644))

	batch, err := NewLoader([]Format{FormatJSON}).Load(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, batch.FileErrors, 1)
	assert.Equal(t, "a.json", batch.FileErrors[0].File)
	require.Len(t, batch.Entries, 2)
}

func TestLoader_WrongShapeElementKeepsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"),
		[]byte(`[{"NUMEXPEDIENTE":"1"},{"NUMEXPEDIENTE":"2","OBJETO":{"nested":1}},{"NUMEXPEDIENTE":"3"},{"NUMEXPEDIENTE":"4"}]`), 0o644))

	batch, err := NewLoader([]Format{FormatJSON}).Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Empty(t, batch.FileErrors)
	require.Len(t, batch.Entries, 4)
	assert.Error(t, batch.Entries[1].Err)
	assert.Equal(t, "4", batch.Entries[3].Raw.NumExpediente.String())
}

func TestLoader_MissingDir(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestLoader_FormatFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte(`<results/>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`[]`), 0o644))

	files, err := NewLoader([]Format{FormatJSON}).Files(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.json")}, files)
}
