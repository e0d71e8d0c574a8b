package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/source"
)

func TestNormalize_Full(t *testing.T) {
	raw := source.RawInitiative{
		NumExpediente:        " 121/000001 ",
		Legislatura:          "15",
		Supertipo:            "Iniciativas legislativas",
		Tipo:                 "Proyecto de ley",
		Objeto:               "Proyecto de Ley de\n  Protección del Medio Ambiente",
		Autor:                "Gobierno",
		FechaPresentacion:    "5/9/2023",
		FechaCalificacion:    "12/09/2023 0:00:00",
		TipoTramitacion:      "Urgente",
		ComisionCompetente:   "Comisión de Transición Ecológica",
		TramitacionSeguida:   "Comisión de Igualdad\r\n\r\ndesde 12/12/2023   hasta 15/12/2023\r\n",
		ResultadoTramitacion: "Aprobado",
		SituacionActual:      "Cerrado",
		IniciativasRelacion:  "121/000002, 121/000003\n121/000002",
		IniciativasOrigen:    "",
		EnlacesBOCG:          "https://example.org/bocg1.pdf",
	}

	res := Normalize(raw, source.Origin{File: "a.xml", Index: 3})
	require.False(t, res.Skip)
	assert.Empty(t, res.Warnings)

	in := res.Initiative
	assert.Equal(t, "121/000001", in.Expediente)
	assert.Equal(t, "Proyecto de ley", in.Kind)
	assert.Equal(t, "Proyecto de Ley de Protección del Medio Ambiente", in.Subject)
	assert.Equal(t, time.Date(2023, 9, 5, 0, 0, 0, 0, time.UTC), in.SubmissionDate)
	assert.Equal(t, time.Date(2023, 9, 12, 0, 0, 0, 0, time.UTC), in.QualificationDate)
	assert.Equal(t, "Comisión de Igualdad\ndesde 12/12/2023 hasta 15/12/2023", in.ProcedureText)
	assert.Equal(t, []string{"121/000002", "121/000003", "121/000002"}, in.RelatedKeys)
	assert.NotNil(t, in.OriginKeys)
	assert.Empty(t, in.OriginKeys)
	assert.Equal(t, []string{"https://example.org/bocg1.pdf"}, in.Links)
	assert.Equal(t, "a.xml", in.SourceFile)
}

func TestNormalize_FallbackKey(t *testing.T) {
	res := Normalize(source.RawInitiative{Expediente: "122/000010"}, source.Origin{})
	require.False(t, res.Skip)
	assert.Equal(t, "122/000010", res.Initiative.Expediente)
	assert.Equal(t, model.UnknownKind, res.Initiative.Kind)
}

func TestNormalize_PrimaryKeyWins(t *testing.T) {
	res := Normalize(source.RawInitiative{NumExpediente: "1", Expediente: "2"}, source.Origin{})
	assert.Equal(t, "1", res.Initiative.Expediente)
}

func TestNormalize_MissingKeySkips(t *testing.T) {
	res := Normalize(source.RawInitiative{Objeto: "Ley sin número", Expediente: "   "}, source.Origin{})
	assert.True(t, res.Skip)
	assert.Equal(t, model.SkipMissingKey, res.Reason)
	assert.ErrorIs(t, res.Err, ErrMissingKey)
	assert.Empty(t, res.Initiative.Expediente)
}

func TestNormalize_DefaultsAreExplicit(t *testing.T) {
	in := Normalize(source.RawInitiative{NumExpediente: "1"}, source.Origin{}).Initiative
	assert.False(t, in.HasSubmissionDate())
	assert.False(t, in.HasQualificationDate())
	assert.NotNil(t, in.RelatedKeys)
	assert.NotNil(t, in.OriginKeys)
	assert.NotNil(t, in.Links)
	assert.Equal(t, "", in.Subject)
}

func TestNormalize_BadDateWarns(t *testing.T) {
	res := Normalize(source.RawInitiative{NumExpediente: "1", FechaPresentacion: "31/02/2024"}, source.Origin{})
	require.False(t, res.Skip)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "FECHAPRESENTACION")
	assert.False(t, res.Initiative.HasSubmissionDate())
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"12/12/2023", time.Date(2023, 12, 12, 0, 0, 0, 0, time.UTC), false},
		{"1/2/2024", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), false},
		{"01/02/2024 10:00:00", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, false},
		{"2024-02-01", time.Time{}, true},
		{"32/01/2024", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "a"}, SplitKeys(" a,b ;\n\n c\t a "))
	assert.Equal(t, []string{}, SplitKeys("  ,, "))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "ley de proteccion del medio ambiente", Fold("  Ley de Protección del Medio Ambiente "))
	assert.Equal(t, "comision", Fold("COMISIÓN"))
	assert.Equal(t, "nino", Fold("Niño"))
}

func TestNarrative(t *testing.T) {
	assert.Equal(t, "a b\nc", Narrative("  a \t b \r\n\r\n c  "))
}
