// Package carddb maps a card's raw capacity in bytes to its SD capacity
// class (SDSC/SDHC/SDXC/SDUC), loaded from an embedded CSV table. The
// shape is grounded on the teacher's disks package, which keeps its own
// device-geometry table as a gocsv-tagged embedded CSV.
package carddb

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

//go:embed capacity-classes.csv
var capacityClassesCSV string

// CapacityClass describes one SD capacity tier's byte range.
type CapacityClass struct {
	Slug     string `csv:"slug"`
	Name     string `csv:"name"`
	Class    string `csv:"class"`
	MinBytes uint64 `csv:"min_bytes"`
	MaxBytes uint64 `csv:"max_bytes"`
	BusSpec  string `csv:"bus_spec"`
}

var capacityClasses []CapacityClass

func init() {
	err := gocsv.UnmarshalToCallback(
		strings.NewReader(capacityClassesCSV),
		func(row CapacityClass) error {
			capacityClasses = append(capacityClasses, row)
			return nil
		},
	)
	if err != nil {
		panic(fmt.Sprintf("carddb: malformed embedded capacity table: %s", err))
	}
}

// Lookup returns the capacity class whose [MinBytes, MaxBytes] range
// contains totalBytes.
func Lookup(totalBytes uint64) (CapacityClass, error) {
	for _, c := range capacityClasses {
		if totalBytes >= c.MinBytes && totalBytes <= c.MaxBytes {
			return c, nil
		}
	}
	return CapacityClass{}, fmt.Errorf("no known capacity class covers %d bytes", totalBytes)
}

// LookupBySlug returns the capacity class with the given slug (e.g.
// "sdhc").
func LookupBySlug(slug string) (CapacityClass, error) {
	for _, c := range capacityClasses {
		if c.Slug == slug {
			return c, nil
		}
	}
	return CapacityClass{}, fmt.Errorf("no predefined capacity class with slug %q", slug)
}
