// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package taxonomy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// minContextRunes is the length a map or review text must exceed to be quoted.
const minContextRunes = 10

// round1Context quotes the field map and review sentence of the first limit
// documents. It returns the material and the number of documents sampled.
func round1Context(docs []types.Document, limit int) (string, int) {
	sample := docs
	if limit > 0 && len(sample) > limit {
		sample = sample[:limit]
	}
	var parts []string
	for _, d := range sample {
		if utf8.RuneCountInString(d.Map) > minContextRunes || utf8.RuneCountInString(d.Review) > minContextRunes {
			parts = append(parts, fmt.Sprintf("《%s》\n[文献定位]: %s\n[内容简述]: %s", d.Title, d.Map, d.Review))
		}
	}
	return strings.Join(parts, "\n\n"), len(sample)
}

// round2Context quotes the parent description followed by the field map and
// lineage of the first limit members.
func round2Context(docs []types.Document, parent string, limit int) string {
	parts := []string{fmt.Sprintf("【所属父类别(背景)】: %s", parent)}
	for i, d := range docs {
		if limit > 0 && i >= limit {
			break
		}
		if d.Map == "" && d.Lineage == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("《%s》\n[地图]: %s\n[脉络]: %s", d.Title, d.Map, d.Lineage))
	}
	return strings.Join(parts, "\n\n")
}
