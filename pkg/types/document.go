// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// View names one of the four structured text sections of a paper summary.
type View string

const (
	ViewMain    View = "main"
	ViewSummary View = "summary"
	ViewMap     View = "map"
	ViewLineage View = "lineage"
)

// Views lists the text views in fusion order.
var Views = []View{ViewMain, ViewSummary, ViewMap, ViewLineage}

// ParseView converts a view name to a View.
func ParseView(s string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Views {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown view %q (want main, summary, map, or lineage)", s)
}

// Document is one paper as seen by the clustering engine. It is built once
// from the per-paper summary markdown and is not modified during a round.
type Document struct {
	// Title is the unique key of the document.
	Title string `json:"title" yaml:"title"`

	// Main is the "main content" section text.
	Main string `json:"main" yaml:"main"`

	// Summary is the condensed core-content section text.
	Summary string `json:"summary" yaml:"summary"`

	// Map is the standardized field-map section text.
	Map string `json:"map" yaml:"map"`

	// Lineage is the lineage and background section text.
	Lineage string `json:"lineage" yaml:"lineage"`

	// Review is the review-ready sentence. It only feeds anchor prompts.
	Review string `json:"review,omitempty" yaml:"review,omitempty"`

	// Year is the publication year; valid only when HasYear is set.
	Year int `json:"year" yaml:"year"`

	// HasYear reports whether a year was found for the document.
	HasYear bool `json:"has_year" yaml:"has_year"`
}

// Text returns the text of one view.
func (d Document) Text(v View) string {
	switch v {
	case ViewMain:
		return d.Main
	case ViewSummary:
		return d.Summary
	case ViewMap:
		return d.Map
	case ViewLineage:
		return d.Lineage
	}
	return ""
}

// SetText replaces the text of one view.
func (d *Document) SetText(v View, text string) {
	switch v {
	case ViewMain:
		d.Main = text
	case ViewSummary:
		d.Summary = text
	case ViewMap:
		d.Map = text
	case ViewLineage:
		d.Lineage = text
	}
}

// Complete reports whether the document carries all four views and a year.
// Incomplete documents are left out of clustering.
func (d Document) Complete() bool {
	for _, v := range Views {
		if strings.TrimSpace(d.Text(v)) == "" {
			return false
		}
	}
	return d.HasYear
}

// Weights configures the contribution of each view and of the year axis to
// the fused distance. Values are non-negative and need not sum to one.
type Weights struct {
	Main    float64 `json:"main" yaml:"main" mapstructure:"main"`
	Summary float64 `json:"summary" yaml:"summary" mapstructure:"summary"`
	Map     float64 `json:"map" yaml:"map" mapstructure:"map"`
	Lineage float64 `json:"lineage" yaml:"lineage" mapstructure:"lineage"`
	Year    float64 `json:"year" yaml:"year" mapstructure:"year"`
}

// For returns the weight of a text view.
func (w Weights) For(v View) float64 {
	switch v {
	case ViewMain:
		return w.Main
	case ViewSummary:
		return w.Summary
	case ViewMap:
		return w.Map
	case ViewLineage:
		return w.Lineage
	}
	return 0
}

// Scale multiplies every weight by c.
func (w Weights) Scale(c float64) Weights {
	return Weights{
		Main:    w.Main * c,
		Summary: w.Summary * c,
		Map:     w.Map * c,
		Lineage: w.Lineage * c,
		Year:    w.Year * c,
	}
}

// Validate rejects negative weights and configurations where every weight is zero.
func (w Weights) Validate() error {
	total := 0.0
	for name, v := range map[string]float64{
		"main": w.Main, "summary": w.Summary, "map": w.Map, "lineage": w.Lineage, "year": w.Year,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative (%g)", name, v)
		}
		total += v
	}
	if total == 0 {
		return fmt.Errorf("all weights are zero")
	}
	return nil
}
