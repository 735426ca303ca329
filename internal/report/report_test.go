package report

import (
	"strings"
	"testing"
	"time"

	"github.com/strongaya/federated-data-portal/internal/schema"
	"github.com/strongaya/federated-data-portal/internal/store"
	"github.com/strongaya/federated-data-portal/internal/vantage6"
)

const (
	sexClass    = "http://ncicb.nci.nih.gov/xml/owl/EVS/Thesaurus.owl#C28421"
	maleClass   = "http://ncicb.nci.nih.gov/xml/owl/EVS/Thesaurus.owl#C20197"
	femaleClass = "http://ncicb.nci.nih.gov/xml/owl/EVS/Thesaurus.owl#C16576"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(`{
	  "variable_info": {
	    "biological_sex": {
	      "class": "ncit:C28421",
	      "value_mapping": {
	        "terms": {
	          "male": {"target_class": "ncit:C20197"},
	          "female": {"target_class": "ncit:C16576"}
	        }
	      }
	    },
	    "tumour_type": {
	      "class": "sct:363346000"
	    }
	  }
	}`))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	return s
}

func testSnapshot() store.Snapshot {
	return store.Snapshot{
		Timestamp: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		Organisations: []vantage6.OrganisationDescriptives{
			{
				Organisation: "Clinic A",
				Country:      "NL",
				SampleSize:   120,
				VariableInfo: []vantage6.VariableCount{
					{MainClass: sexClass, MainClassCount: 100, SubClass: sexClass, SubClassCount: 100},
					{MainClass: sexClass, MainClassCount: 100, SubClass: maleClass, SubClassCount: 60},
					{MainClass: sexClass, MainClassCount: 100, SubClass: femaleClass, SubClassCount: 30},
				},
			},
			{
				Organisation: "Clinic B",
				Country:      "NL",
				SampleSize:   80,
				VariableInfo: nil,
			},
		},
	}
}

func TestSummarise(t *testing.T) {
	summary := Summarise(testSnapshot(), "AYA")

	if summary.Countries.Count != 1 || summary.Countries.Label != "1 country" {
		t.Fatalf("unexpected countries tile %+v", summary.Countries)
	}
	if summary.Organisations.Count != 2 || summary.Organisations.Label != "2 organisations" {
		t.Fatalf("unexpected organisations tile %+v", summary.Organisations)
	}
	if summary.SampleSize.Count != 200 || summary.SampleSize.Label != "200 AYAs" {
		t.Fatalf("unexpected sample size tile %+v", summary.SampleSize)
	}
}

func TestSummariseEmptySnapshot(t *testing.T) {
	summary := Summarise(store.Snapshot{}, "participant")

	if summary.Countries.Count != 0 || summary.Countries.Label != "0 countries" {
		t.Fatalf("unexpected countries tile %+v", summary.Countries)
	}
	if summary.SampleSize.Label != "0 participants" {
		t.Fatalf("unexpected sample size label %s", summary.SampleSize.Label)
	}
}

func TestByOrganisation(t *testing.T) {
	dist := ByOrganisation(testSnapshot(), "AYA")

	if dist.Total != 200 {
		t.Fatalf("expected total 200, got %d", dist.Total)
	}
	if len(dist.Slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(dist.Slices))
	}
	if dist.Slices[0].Label != "Clinic A" || dist.Slices[0].Proportion != 0.6 {
		t.Fatalf("unexpected first slice %+v", dist.Slices[0])
	}
	if dist.Slices[1].Proportion != 0.4 {
		t.Fatalf("unexpected second slice %+v", dist.Slices[1])
	}
	if !strings.Contains(dist.Slices[0].Note, "60.00%") {
		t.Fatalf("expected percentage note, got %q", dist.Slices[0].Note)
	}
}

func TestByCountryMergesOrganisations(t *testing.T) {
	dist := ByCountry(testSnapshot(), "AYA")

	if len(dist.Slices) != 1 {
		t.Fatalf("expected 1 country slice, got %d", len(dist.Slices))
	}
	if dist.Slices[0].Label != "NL" || dist.Slices[0].Value != 200 || dist.Slices[0].Proportion != 1 {
		t.Fatalf("unexpected slice %+v", dist.Slices[0])
	}
}

func TestBuildAvailability(t *testing.T) {
	matrix := BuildAvailability(testSchema(t), testSnapshot(), "AYA")

	if len(matrix.Organisations) != 2 {
		t.Fatalf("expected 2 organisations, got %v", matrix.Organisations)
	}

	// biological_sex variable row, then its female/male value rows (sorted),
	// then tumour_type without value rows.
	if len(matrix.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(matrix.Rows))
	}

	sexRow := matrix.Rows[0]
	if sexRow.Variable != "Biological Sex" || sexRow.Class != "ncit:C28421" {
		t.Fatalf("unexpected variable row %+v", sexRow)
	}
	if sexRow.Total != 100 {
		t.Fatalf("expected total 100, got %d", sexRow.Total)
	}
	cellA := sexRow.Cells["Clinic A"]
	if !cellA.Available || cellA.Count != 100 {
		t.Fatalf("unexpected Clinic A cell %+v", cellA)
	}
	if !strings.Contains(cellA.Note, "100 AYAs in Clinic A") {
		t.Fatalf("unexpected note %q", cellA.Note)
	}
	cellB := sexRow.Cells["Clinic B"]
	if cellB.Available || cellB.Count != 0 {
		t.Fatalf("unexpected Clinic B cell %+v", cellB)
	}
	if !strings.Contains(cellB.Note, "appears unavailable") {
		t.Fatalf("unexpected note %q", cellB.Note)
	}

	femaleRow := matrix.Rows[1]
	if femaleRow.Value != "Female" || femaleRow.Variable != "" {
		t.Fatalf("unexpected value row %+v", femaleRow)
	}
	if femaleRow.Total != 30 || femaleRow.Cells["Clinic A"].Count != 30 {
		t.Fatalf("unexpected female counts %+v", femaleRow)
	}

	maleRow := matrix.Rows[2]
	if maleRow.Value != "Male" || maleRow.Total != 60 {
		t.Fatalf("unexpected male row %+v", maleRow)
	}

	tumourRow := matrix.Rows[3]
	if tumourRow.Variable != "Tumour Type" || tumourRow.Total != 0 {
		t.Fatalf("unexpected tumour row %+v", tumourRow)
	}
}

func TestBuildCompleteness(t *testing.T) {
	completeness := BuildCompleteness(testSchema(t), testSnapshot())

	// tumour_type has no value mapping, so only biological_sex is reported.
	if len(completeness.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(completeness.Rows))
	}

	row := completeness.Rows[0]
	if row.Variable != "Biological Sex" {
		t.Fatalf("unexpected variable %s", row.Variable)
	}
	// Clinic A: 100 counted, 90 categorised (60 male + 30 female).
	if row.Totals.Complete != 90 || row.Totals.Incomplete != 10 {
		t.Fatalf("unexpected totals %+v", row.Totals)
	}
	a := row.PerOrganisation["Clinic A"]
	if a.Complete != 90 || a.Incomplete != 10 {
		t.Fatalf("unexpected Clinic A counts %+v", a)
	}
	b := row.PerOrganisation["Clinic B"]
	if b.Complete != 0 || b.Incomplete != 0 {
		t.Fatalf("unexpected Clinic B counts %+v", b)
	}
}

func TestBuildCompletenessNeverNegative(t *testing.T) {
	snap := testSnapshot()
	// More categorised values than variable records; incomplete clamps at 0.
	snap.Organisations[0].VariableInfo = []vantage6.VariableCount{
		{MainClass: sexClass, MainClassCount: 50, SubClass: sexClass, SubClassCount: 50},
		{MainClass: sexClass, MainClassCount: 50, SubClass: maleClass, SubClassCount: 60},
	}

	completeness := BuildCompleteness(testSchema(t), snap)
	counts := completeness.Rows[0].PerOrganisation["Clinic A"]
	if counts.Incomplete != 0 || counts.Complete != 50 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}
