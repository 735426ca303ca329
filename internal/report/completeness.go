package report

import (
	"sort"

	"github.com/strongaya/federated-data-portal/internal/schema"
	"github.com/strongaya/federated-data-portal/internal/store"
)

// CompletenessCounts splits a variable's records into complete and
// incomplete for one scope.
type CompletenessCounts struct {
	Complete   int `json:"complete"`
	Incomplete int `json:"incomplete"`
}

// CompletenessRow reports completeness of one variable, overall and per
// organisation.
type CompletenessRow struct {
	Variable        string                        `json:"variable"`
	Totals          CompletenessCounts            `json:"totals"`
	PerOrganisation map[string]CompletenessCounts `json:"perOrganisation"`
}

// Completeness covers every categorical variable of the schema.
type Completeness struct {
	Rows []CompletenessRow `json:"rows"`
}

// BuildCompleteness reports, per categorical variable, how many records
// carry a categorised value. A record counted for the variable but for none
// of its mapped values is incomplete. Variables without a value mapping have
// no notion of completeness and are skipped.
func BuildCompleteness(s *schema.Schema, snap store.Snapshot) Completeness {
	expanded := s.Expanded()

	var out Completeness
	for _, name := range s.Variables() {
		variable := expanded.VariableInfo[name]
		if variable.ValueMapping == nil {
			continue
		}

		row := CompletenessRow{
			Variable:        schema.DisplayName(name),
			PerOrganisation: make(map[string]CompletenessCounts, len(snap.Organisations)),
		}

		targets := make([]string, 0, len(variable.ValueMapping.Terms))
		for _, value := range variable.Values() {
			targets = append(targets, variable.ValueMapping.Terms[value].TargetClass)
		}
		sort.Strings(targets)

		for _, org := range snap.Organisations {
			mainCount := matchCount(org.VariableInfo, variable.Class, variable.Class, false)
			valueSum := 0
			for _, target := range targets {
				valueSum += matchCount(org.VariableInfo, variable.Class, target, true)
			}

			incomplete := mainCount - valueSum
			if incomplete < 0 {
				incomplete = 0
			}
			counts := CompletenessCounts{
				Complete:   mainCount - incomplete,
				Incomplete: incomplete,
			}
			row.PerOrganisation[org.Organisation] = counts
			row.Totals.Complete += counts.Complete
			row.Totals.Incomplete += counts.Incomplete
		}

		out.Rows = append(out.Rows, row)
	}

	return out
}
