package report

import (
	"fmt"
	"sort"

	"github.com/strongaya/federated-data-portal/internal/schema"
	"github.com/strongaya/federated-data-portal/internal/store"
	"github.com/strongaya/federated-data-portal/internal/vantage6"
)

// Cell is one variable-by-organisation entry of the availability matrix.
type Cell struct {
	Count     int    `json:"count"`
	Available bool   `json:"available"`
	Note      string `json:"note"`
}

// AvailabilityRow is one matrix row: either a variable or one of its mapped
// values (value rows have an empty Variable and a non-empty Value).
type AvailabilityRow struct {
	Variable string          `json:"variable,omitempty"`
	Value    string          `json:"value,omitempty"`
	Class    string          `json:"class"`
	Total    int             `json:"total"`
	Cells    map[string]Cell `json:"cells"`
}

// Availability is the full variables-by-organisations matrix.
type Availability struct {
	Organisations []string          `json:"organisations"`
	Rows          []AvailabilityRow `json:"rows"`
}

// BuildAvailability crosses the schema's variables and values with the
// per-organisation counts of the latest snapshot. Classes in the schema are
// expanded to full URIs before matching because nodes report full URIs.
func BuildAvailability(s *schema.Schema, snap store.Snapshot, subject string) Availability {
	expanded := s.Expanded()

	organisations := make([]string, 0, len(snap.Organisations))
	counts := make(map[string][]vantage6.VariableCount, len(snap.Organisations))
	for _, org := range snap.Organisations {
		organisations = append(organisations, org.Organisation)
		counts[org.Organisation] = org.VariableInfo
	}
	sort.Strings(organisations)

	matrix := Availability{Organisations: organisations}

	for _, name := range s.Variables() {
		variable := expanded.VariableInfo[name]
		display := schema.DisplayName(name)

		row := AvailabilityRow{
			Variable: display,
			Class:    schema.CompactClass(variable.Class),
			Cells:    make(map[string]Cell, len(organisations)),
		}
		for _, org := range organisations {
			count := matchCount(counts[org], variable.Class, variable.Class, false)
			row.Total += count
			row.Cells[org] = variableCell(org, display, subject, count)
		}
		matrix.Rows = append(matrix.Rows, row)

		if variable.ValueMapping == nil {
			continue
		}
		for _, value := range variable.Values() {
			target := variable.ValueMapping.Terms[value].TargetClass
			valueDisplay := schema.DisplayName(value)

			valueRow := AvailabilityRow{
				Value: valueDisplay,
				Class: schema.CompactClass(target),
				Cells: make(map[string]Cell, len(organisations)),
			}
			for _, org := range organisations {
				count := matchCount(counts[org], variable.Class, target, true)
				valueRow.Total += count
				valueRow.Cells[org] = valueCell(org, display, valueDisplay, subject, count)
			}
			matrix.Rows = append(matrix.Rows, valueRow)
		}
	}

	return matrix
}

// matchCount tallies node-reported counts for a main/sub class pair. For
// variable rows the sub class equals the main class and the main count is
// used; for value rows the sub class is the value's target and the sub count
// is used.
func matchCount(info []vantage6.VariableCount, mainClass, subClass string, useSubCount bool) int {
	total := 0
	for _, entry := range info {
		if entry.MainClass != mainClass || entry.SubClass != subClass {
			continue
		}
		if useSubCount {
			total += entry.SubClassCount.Int()
		} else {
			total += entry.MainClassCount.Int()
		}
	}
	return total
}

func variableCell(org, variable, subject string, count int) Cell {
	if count > 0 {
		return Cell{
			Count:     count,
			Available: true,
			Note:      fmt.Sprintf("%d %s in %s have information on %s.", count, pluralise(count, subject, subject+"s"), org, variable),
		}
	}
	return Cell{
		Note: fmt.Sprintf("Data for %s appears unavailable for %s.", variable, org),
	}
}

func valueCell(org, variable, value, subject string, count int) Cell {
	if count > 0 {
		return Cell{
			Count:     count,
			Available: true,
			Note:      fmt.Sprintf("%d %s in %s have %s as %s.", count, pluralise(count, subject, subject+"s"), org, value, variable),
		}
	}
	return Cell{
		Note: fmt.Sprintf("No %ss that have %s as %s appear available in %s.", subject, value, variable, org),
	}
}
