// Package schema models the global schema file mounted into the container.
//
// The schema describes which ontology class backs each reported variable and,
// for categorical variables, which target classes its values map to. Classes
// may be written with a compact prefix (ncit:C16428) or as a full URI; both
// forms are normalised so aggregation can match them against task results.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Prefix table for compacting and expanding ontology classes.
var prefixes = map[string]string{
	"ncit": "http://ncicb.nci.nih.gov/xml/owl/EVS/Thesaurus.owl#",
	"sct":  "http://snomed.info/sct",
}

// Schema is the parsed global schema document.
type Schema struct {
	VariableInfo map[string]Variable `json:"variable_info"`
}

// Variable describes one reported variable.
type Variable struct {
	Class        string        `json:"class"`
	ValueMapping *ValueMapping `json:"value_mapping,omitempty"`
}

// ValueMapping enumerates the categorical values of a variable.
type ValueMapping struct {
	Terms map[string]Term `json:"terms"`
}

// Term maps a value onto its ontology class.
type Term struct {
	TargetClass string `json:"target_class"`
}

// Load reads and validates the schema file at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every variable carries a class and every mapped value
// carries a target class.
func (s *Schema) Validate() error {
	if s == nil || len(s.VariableInfo) == 0 {
		return errors.New("schema has no variable_info entries")
	}

	var errs []error
	for name, variable := range s.VariableInfo {
		if strings.TrimSpace(variable.Class) == "" {
			errs = append(errs, fmt.Errorf("variable %q has no class", name))
		}
		if variable.ValueMapping == nil {
			continue
		}
		for value, term := range variable.ValueMapping.Terms {
			if strings.TrimSpace(term.TargetClass) == "" {
				errs = append(errs, fmt.Errorf("variable %q value %q has no target_class", name, value))
			}
		}
	}
	return errors.Join(errs...)
}

// Expanded returns a copy of the schema with every prefixed class rewritten
// to its full URI.
func (s *Schema) Expanded() *Schema {
	out := &Schema{VariableInfo: make(map[string]Variable, len(s.VariableInfo))}
	for name, variable := range s.VariableInfo {
		expanded := Variable{Class: ExpandClass(variable.Class)}
		if variable.ValueMapping != nil {
			terms := make(map[string]Term, len(variable.ValueMapping.Terms))
			for value, term := range variable.ValueMapping.Terms {
				terms[value] = Term{TargetClass: ExpandClass(term.TargetClass)}
			}
			expanded.ValueMapping = &ValueMapping{Terms: terms}
		}
		out.VariableInfo[name] = expanded
	}
	return out
}

// Variables returns the variable names in stable order.
func (s *Schema) Variables() []string {
	names := make([]string, 0, len(s.VariableInfo))
	for name := range s.VariableInfo {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns a variable's mapped value names in stable order.
func (v Variable) Values() []string {
	if v.ValueMapping == nil {
		return nil
	}
	names := make([]string, 0, len(v.ValueMapping.Terms))
	for name := range v.ValueMapping.Terms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExpandClass rewrites a prefixed class (ncit:C16428) to its full URI.
// Unprefixed classes pass through unchanged.
func ExpandClass(class string) string {
	for prefix, uri := range prefixes {
		if strings.HasPrefix(class, prefix+":") {
			return uri + strings.TrimPrefix(class, prefix+":")
		}
	}
	return class
}

// CompactClass rewrites a full URI back to its prefixed form for display.
func CompactClass(class string) string {
	for prefix, uri := range prefixes {
		if strings.HasPrefix(class, uri) {
			return prefix + ":" + strings.TrimPrefix(class, uri)
		}
	}
	return class
}

// DisplayName converts a snake_case variable or value name into a
// human-readable title, matching how the portal labels rows.
func DisplayName(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
