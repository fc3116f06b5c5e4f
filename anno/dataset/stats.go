package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	internal "github.com/openlabel/annostore/anno"
)

// Stat is one named feature statistic in the stats side-file: a JSON array
// of such records, upserted by name and rewritten whole-file on every
// update.
type Stat struct {
	Name      string           `json:"name"`
	Type      string           `json:"type"` // "numerical" or "categorical"
	Histogram []map[string]any `json:"histogram"`
	Range     []float64        `json:"range,omitempty"`
}

// LoadStats reads the stats side-file; a missing file is an empty list.
func LoadStats(dir string) ([]Stat, error) {
	path := filepath.Join(dir, internal.DefaultStatsFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dataset: read stats: %w", err)
	}
	var stats []Stat
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}
	return stats, nil
}

// SaveStat upserts one stat by name and rewrites the side-file atomically:
// an existing record with the same name is replaced, otherwise the record is
// appended.
func SaveStat(dir string, st Stat) error {
	stats, err := LoadStats(dir)
	if err != nil {
		return err
	}
	kept := stats[:0]
	for _, s := range stats {
		if s.Name != st.Name {
			kept = append(kept, s)
		}
	}
	kept = append(kept, st)
	raw, err := json.MarshalIndent(kept, "", "\t")
	if err != nil {
		return fmt.Errorf("dataset: encode stats: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, internal.DefaultStatsFile), raw)
}

// NumericalStat builds a histogram stat over feature values using
// equal-width bins across the observed range.
func NumericalStat(name string, values []float64, bins int) Stat {
	st := Stat{Name: name, Type: "numerical"}
	if len(values) == 0 || bins <= 0 {
		return st
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		// widen a degenerate range so a single divider pair still counts
		hi = lo + 1
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// Histogram panics unless the last divider is strictly greater than the
	// max observation; nudge it up one ulp so the max lands in the last bin
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)
	st.Range = []float64{lo, hi}
	st.Histogram = make([]map[string]any, bins)
	for i, c := range counts {
		end := dividers[i+1]
		if i == bins-1 {
			end = hi
		}
		st.Histogram[i] = map[string]any{
			"bin_start": dividers[i],
			"bin_end":   end,
			"count":     int(c),
		}
	}
	return st
}

// CategoricalStat builds a count-per-value stat for a categorical feature.
func CategoricalStat(name string, values []string) Stat {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	st := Stat{Name: name, Type: "categorical"}
	st.Histogram = make([]map[string]any, len(keys))
	for i, k := range keys {
		st.Histogram[i] = map[string]any{
			"value": k,
			"count": counts[k],
		}
	}
	return st
}
