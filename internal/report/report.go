// Package report aggregates fetched descriptives into the figures the
// portal serves: summary tiles, distributions, data availability, and data
// completeness.
package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/strongaya/federated-data-portal/internal/store"
)

// Tile is one headline figure with its pluralised label.
type Tile struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

// Summary carries the three headline tiles for the latest snapshot.
type Summary struct {
	Timestamp     time.Time `json:"timestamp"`
	Countries     Tile      `json:"countries"`
	Organisations Tile      `json:"organisations"`
	SampleSize    Tile      `json:"sampleSize"`
}

// Slice is one share of a distribution.
type Slice struct {
	Label      string  `json:"label"`
	Value      int     `json:"value"`
	Proportion float64 `json:"proportion"`
	Note       string  `json:"note"`
}

// Distribution describes how the available data splits across a dimension.
type Distribution struct {
	Title  string  `json:"title"`
	Total  int     `json:"total"`
	Slices []Slice `json:"slices"`
}

// Summarise computes the headline tiles. The subject names what a record
// represents ("participant", "AYA", ...).
func Summarise(snap store.Snapshot, subject string) Summary {
	countries := make(map[string]struct{})
	total := 0
	for _, org := range snap.Organisations {
		if org.Country != "" {
			countries[org.Country] = struct{}{}
		}
		total += org.SampleSize.Int()
	}

	return Summary{
		Timestamp: snap.Timestamp,
		Countries: Tile{
			Count: len(countries),
			Label: countLabel(len(countries), "country", "countries"),
		},
		Organisations: Tile{
			Count: len(snap.Organisations),
			Label: countLabel(len(snap.Organisations), "organisation", "organisations"),
		},
		SampleSize: Tile{
			Count: total,
			Label: countLabel(total, subject, subject+"s"),
		},
	}
}

// ByOrganisation computes per-organisation sample shares.
func ByOrganisation(snap store.Snapshot, subject string) Distribution {
	sizes := make(map[string]int, len(snap.Organisations))
	for _, org := range snap.Organisations {
		sizes[org.Organisation] += org.SampleSize.Int()
	}
	return distribution(fmt.Sprintf("%ss per organisation", subject), sizes, subject)
}

// ByCountry computes per-country sample shares.
func ByCountry(snap store.Snapshot, subject string) Distribution {
	sizes := make(map[string]int)
	for _, org := range snap.Organisations {
		sizes[org.Country] += org.SampleSize.Int()
	}
	return distribution(fmt.Sprintf("%ss per country", subject), sizes, subject)
}

func distribution(title string, sizes map[string]int, subject string) Distribution {
	labels := make([]string, 0, len(sizes))
	total := 0
	for label, size := range sizes {
		labels = append(labels, label)
		total += size
	}
	sort.Strings(labels)

	dist := Distribution{Title: title, Total: total, Slices: make([]Slice, 0, len(labels))}
	for _, label := range labels {
		size := sizes[label]
		proportion := 0.0
		if total > 0 {
			proportion = math.Round(float64(size)/float64(total)*100) / 100
		}
		dist.Slices = append(dist.Slices, Slice{
			Label:      label,
			Value:      size,
			Proportion: proportion,
			Note: fmt.Sprintf("%s has made data of %d %s available, which is %.2f%% of all available %s data.",
				label, size, pluralise(size, subject, subject+"s"), proportion*100, subject),
		})
	}
	return dist
}

func countLabel(n int, singular, plural string) string {
	return fmt.Sprintf("%d %s", n, pluralise(n, singular, plural))
}

func pluralise(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
