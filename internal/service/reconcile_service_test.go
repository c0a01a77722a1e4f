package service

import (
	"testing"

	"FundPrep/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveQuarterly(t *testing.T) {
	r := NewReconciler(model.DefaultFieldSet())

	tests := []struct {
		name    string
		field   string
		columns []string
		want    string
		ok      bool
	}{
		{"verbatim", "gvkey", []string{"gvkey", "gvkeyq"}, "gvkey", true},
		{"q suffix", "sale", []string{"saleq"}, "saleq", true},
		{"y suffix", "oancf", []string{"oancfy"}, "oancfy", true},
		{"q preferred over y", "xrd", []string{"xrdy", "xrdq"}, "xrdq", true},
		{"lookup fallback", "prcc_f", []string{"prccq"}, "prccq", true},
		{"lookup cshpri", "cshpri", []string{"cshprq"}, "cshprq", true},
		{"suffix preferred over lookup", "prcc_f", []string{"prcc_fq", "prccq"}, "prcc_fq", true},
		{"lookup target missing", "prcc_f", []string{"prcc"}, "", false},
		{"unresolved", "sich", []string{"gvkey"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.ResolveQuarterly(tt.field, model.NewSchema("fundq", tt.columns))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAnnual_DirectOnly(t *testing.T) {
	r := NewReconciler(model.DefaultFieldSet())
	schema := model.NewSchema("funda", []string{"gvkey", "saleq", "prccq"})

	col, ok := r.ResolveAnnual("gvkey", schema)
	assert.True(t, ok)
	assert.Equal(t, "gvkey", col)

	_, ok = r.ResolveAnnual("sale", schema)
	assert.False(t, ok)

	_, ok = r.ResolveAnnual("prcc_f", schema)
	assert.False(t, ok)
}

func TestReconcile_EndToEnd(t *testing.T) {
	fields := model.DefaultFieldSet()
	fields.Canonical = []string{"gvkey", "prcc_f", "cshpri", "sich"}
	r := NewReconciler(fields)

	annual := model.NewSchema("funda", []string{"gvkey", "prcc_f", "cshpri", "sich", "datadate"})
	quarterly := model.NewSchema("fundq", []string{"gvkey", "prccq", "cshprq", "datadate"})

	rec := r.Reconcile(annual, quarterly)

	assert.Equal(t, []string{"gvkey", "prcc_f", "cshpri", "sich"}, rec.AnnualColumns())
	assert.Equal(t, []string{"gvkey", "prccq", "cshprq"}, rec.QuarterlyColumns())
	assert.Equal(t, []string{"gvkey", "prcc_f", "cshpri"}, rec.QuarterlyNames())

	require.Len(t, rec.Unresolved, 1)
	assert.Equal(t, model.SchemaQuarterly, rec.Unresolved[0].Schema)
	assert.Equal(t, "sich", rec.Unresolved[0].Field)
}

func TestReconcile_UnresolvedCandidates(t *testing.T) {
	fields := model.DefaultFieldSet()
	fields.Canonical = []string{"dvt", "ni"}
	r := NewReconciler(fields)

	annual := model.NewSchema("funda", []string{"ni"})
	quarterly := model.NewSchema("fundq", []string{"niq", "dvpsxq", "dvtq_x", "dvt_flag"})

	rec := r.Reconcile(annual, quarterly)

	assert.Equal(t, []string{"ni"}, rec.AnnualColumns())
	assert.Equal(t, []string{"niq"}, rec.QuarterlyColumns())
	require.Len(t, rec.Unresolved, 2)
	assert.Equal(t, model.UnresolvedFieldWarning{Schema: model.SchemaAnnual, Field: "dvt"}, rec.Unresolved[0])
	assert.Equal(t, model.SchemaQuarterly, rec.Unresolved[1].Schema)
	assert.Equal(t, []string{"dvt_flag", "dvtq_x"}, rec.Unresolved[1].Candidates)
}

func TestReconcile_AlternateFieldSet(t *testing.T) {
	r := NewReconciler(&model.FieldSet{
		Canonical:         []string{"mkvalt"},
		QuarterlyLookup:   map[string]string{"mkvalt": "mkvaltq"},
		QuarterlySuffixes: []string{"y"},
	})

	rec := r.Reconcile(
		model.NewSchema("funda", []string{"mkvalt"}),
		model.NewSchema("fundq", []string{"mkvaltq"}),
	)

	assert.Equal(t, []string{"mkvaltq"}, rec.QuarterlyColumns())
	assert.Empty(t, rec.Unresolved)
}

func TestReconcile_MixedCaseFieldSet(t *testing.T) {
	r := NewReconciler(&model.FieldSet{
		Canonical:         []string{"GVKEY", "Prcc_F", "gvkey", "OANCF"},
		QuarterlyLookup:   map[string]string{"PRCC_F": "PRCCQ"},
		QuarterlySuffixes: []string{"Y"},
	})

	rec := r.Reconcile(
		model.NewSchema("funda", []string{"GVKEY", "PRCC_F", "OANCF"}),
		model.NewSchema("fundq", []string{"gvkey", "prccq", "oancfy"}),
	)

	assert.Equal(t, []string{"gvkey", "prcc_f", "oancf"}, rec.AnnualColumns())
	assert.Equal(t, []string{"gvkey", "prccq", "oancfy"}, rec.QuarterlyColumns())
	assert.Empty(t, rec.Unresolved)
}
