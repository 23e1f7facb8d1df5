// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// NoiseLabel marks a document that no category claimed.
const NoiseLabel = -1

// AnchorPrefix starts the title of every synthetic anchor document.
const AnchorPrefix = "__ANCHOR_"

// IsAnchorTitle reports whether title names a synthetic anchor document.
func IsAnchorTitle(title string) bool {
	return strings.HasPrefix(title, AnchorPrefix)
}

// Record is one entry of a partition: where the document landed, where it
// is drawn, and the section texts it was clustered on.
type Record struct {
	Coords3D []float64 `json:"coords_3d" yaml:"coords_3d"`
	Label    int       `json:"label" yaml:"label"`
	Keywords []string  `json:"keywords" yaml:"keywords"`
	Main     string    `json:"main" yaml:"main"`
	Summary  string    `json:"summary" yaml:"summary"`
	Map      string    `json:"map" yaml:"map"`
	Lineage  string    `json:"lineage" yaml:"lineage"`
	Year     int       `json:"year" yaml:"year"`
}

// Document rebuilds the clustering input carried by the record.
func (r Record) Document(title string) Document {
	return Document{
		Title:   title,
		Main:    r.Main,
		Summary: r.Summary,
		Map:     r.Map,
		Lineage: r.Lineage,
		Year:    r.Year,
		HasYear: r.Year != 0,
	}
}

// Partition maps document titles (anchors included) to their records.
type Partition map[string]Record

// Titles returns the partition's titles in sorted order.
func (p Partition) Titles() []string {
	titles := make([]string, 0, len(p))
	for t := range p {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles
}

// Labels returns the title to label mapping.
func (p Partition) Labels() map[string]int {
	out := make(map[string]int, len(p))
	for t, r := range p {
		out[t] = r.Label
	}
	return out
}

// Sizes counts real documents per non-noise label. Anchors are not counted.
func (p Partition) Sizes() map[int]int {
	sizes := make(map[int]int)
	for t, r := range p {
		if IsAnchorTitle(t) || r.Label == NoiseLabel {
			continue
		}
		sizes[r.Label]++
	}
	return sizes
}

// Members returns the sorted titles of real documents carrying label.
func (p Partition) Members(label int) []string {
	var out []string
	for t, r := range p {
		if r.Label == label && !IsAnchorTitle(t) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// CategoryLabels returns the sorted non-noise labels held by real documents.
func (p Partition) CategoryLabels() []int {
	sizes := p.Sizes()
	labels := make([]int, 0, len(sizes))
	for l := range sizes {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

// LabelMap is a map keyed by category label. JSON handles integer keys
// natively; YAML gets string keys so text formats agree, and both restore
// the integers on read.
type LabelMap[V any] map[int]V

// Keys returns the labels in ascending order.
func (m LabelMap[V]) Keys() []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// MarshalYAML writes the labels as string keys.
func (m LabelMap[V]) MarshalYAML() (interface{}, error) {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out, nil
}

// UnmarshalYAML restores string keys to integer labels.
func (m *LabelMap[V]) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]V
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out := make(LabelMap[V], len(raw))
	for k, v := range raw {
		label, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return fmt.Errorf("label key %q is not an integer: %w", k, err)
		}
		out[label] = v
	}
	*m = out
	return nil
}

// RoundOutput is the persisted result of one clustering round.
type RoundOutput struct {
	// Results holds every clustered document and the winning anchors.
	Results Partition `json:"results" yaml:"results"`

	// Anchor maps each label to the anchor description that defined it.
	Anchor LabelMap[string] `json:"anchor" yaml:"anchor"`

	// Keywords maps each label to its contrastive keywords.
	Keywords LabelMap[[]string] `json:"keywords" yaml:"keywords"`

	// Evaluation is the keyword generator's commentary on the partition.
	Evaluation string `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`

	// Score is the balance score of the chosen candidate.
	Score float64 `json:"score" yaml:"score"`

	// Method names how the partition was produced ("anchor" or a fallback backend).
	Method string `json:"method" yaml:"method"`

	// Fallback is set when no anchor candidate survived and unsupervised
	// clustering produced the partition.
	Fallback bool `json:"fallback" yaml:"fallback"`
}

// Round2Output maps each parent label to the sub-round that refined it.
type Round2Output = LabelMap[RoundOutput]

// CategoryRecord describes one category of the two-level taxonomy.
type CategoryRecord struct {
	// ID is "p" for a parent category and "p-s" for a child category.
	ID string `json:"id" yaml:"id"`

	// Parent is the parent label; equal to Label for round-1 categories.
	Parent int `json:"parent" yaml:"parent"`

	// Label is the category's label within its round.
	Label int `json:"label" yaml:"label"`

	// Level is 1 for parent categories and 2 for child categories.
	Level int `json:"level" yaml:"level"`

	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	Members     []string `json:"members" yaml:"members"`
}

// CategoryID formats the identifier of a category. A negative child means
// the category is a round-1 parent.
func CategoryID(parent, child int) string {
	if child < 0 {
		return strconv.Itoa(parent)
	}
	return fmt.Sprintf("%d-%d", parent, child)
}

// Categories flattens a round output into category records. Pass a
// negative parent for round 1.
func (o RoundOutput) Categories(parent int) []CategoryRecord {
	seen := make(map[int]bool)
	var labels []int
	for _, l := range append(o.Anchor.Keys(), o.Results.CategoryLabels()...) {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	sort.Ints(labels)

	var out []CategoryRecord
	for _, label := range labels {
		rec := CategoryRecord{
			Label:       label,
			Description: o.Anchor[label],
			Keywords:    o.Keywords[label],
			Members:     o.Results.Members(label),
		}
		if parent < 0 {
			rec.ID = CategoryID(label, -1)
			rec.Parent = label
			rec.Level = 1
		} else {
			rec.ID = CategoryID(parent, label)
			rec.Parent = parent
			rec.Level = 2
		}
		out = append(out, rec)
	}
	return out
}
