// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus reads per-paper summary Markdown files into documents.
// Each file carries a title line and a fixed set of sections; a section's
// text runs from its marker to the next "##" heading.
package corpus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// Section markers as they appear in the summary files.
const (
	TitleMarker   = "论文整理"
	MainMarker    = "## 论文主要内容"
	SummaryMarker = "## 论文核心内容概括"
	MapMarker     = "标准化领域地图"
	LineageMarker = "谱系背景与脉络"
	YearMarker    = "## 发表年份"
	ReviewMarker  = "综述写作专用句"
)

// ViewMarkers maps each text view to its section marker.
var ViewMarkers = map[types.View]string{
	types.ViewMain:    MainMarker,
	types.ViewSummary: SummaryMarker,
	types.ViewMap:     MapMarker,
	types.ViewLineage: LineageMarker,
}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)|（[^）]*）`)
	digitRun      = regexp.MustCompile(`\d+`)
)

// LoadSummary holds counts from a corpus load.
type LoadSummary struct {
	Loaded     int
	Incomplete int
	Failed     int
}

// Total returns the number of files seen.
func (s LoadSummary) Total() int {
	return s.Loaded + s.Incomplete + s.Failed
}

// ParseDocument builds a document from one summary file. fallbackTitle is
// used when the file has no title line.
func ParseDocument(content, fallbackTitle string) types.Document {
	doc := types.Document{Title: parseTitle(content)}
	if doc.Title == "" {
		doc.Title = fallbackTitle
	}
	for view, marker := range ViewMarkers {
		doc.SetText(view, sectionAfter(content, marker))
	}
	doc.Review = sectionAfter(content, ReviewMarker)
	doc.Year, doc.HasYear = ParseYear(sectionAfter(content, YearMarker))
	return doc
}

// ParseYear returns the last four-digit 19xx or 20xx number in text after
// parenthesised asides are removed.
func ParseYear(text string) (int, bool) {
	cleaned := parenthetical.ReplaceAllString(text, "")
	year, found := 0, false
	for _, run := range digitRun.FindAllString(cleaned, -1) {
		if len(run) != 4 || !(strings.HasPrefix(run, "19") || strings.HasPrefix(run, "20")) {
			continue
		}
		y, err := strconv.Atoi(run)
		if err != nil {
			continue
		}
		year, found = y, true
	}
	return year, found
}

// parseTitle returns the text after "# 论文整理：" up to the next line that
// starts with "#".
func parseTitle(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		if !strings.HasPrefix(rest, TitleMarker) {
			continue
		}
		rest = strings.TrimPrefix(rest, TitleMarker)
		if !strings.HasPrefix(rest, "：") && !strings.HasPrefix(rest, ":") {
			continue
		}
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "："), ":")

		parts := []string{rest}
		for _, next := range lines[i+1:] {
			if strings.HasPrefix(next, "#") {
				break
			}
			parts = append(parts, next)
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}

// sectionAfter returns the trimmed text following the first occurrence of
// marker, up to the next line whose first non-blank characters are "##".
func sectionAfter(content, marker string) string {
	idx := strings.Index(content, marker)
	if idx < 0 {
		return ""
	}
	rest := content[idx+len(marker):]
	lines := strings.Split(rest, "\n")
	// The marker's own line never ends the section.
	body := []string{lines[0]}
	for _, line := range lines[1:] {
		if isHeading(line) {
			break
		}
		body = append(body, line)
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

// isHeading returns true if the line starts with ## after leading blanks.
func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "##")
}

// markdownFiles lists the *.md files in dir in name order.
func markdownFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// readDocument parses one file and also returns its raw content.
func readDocument(path string) (types.Document, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return types.Document{}, "", fmt.Errorf("reading %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".md")
	return ParseDocument(string(content), name), string(content), nil
}

// ExtractSection maps each title in dir to the text of the section that
// starts with marker. Files without the section, or with an empty one, are
// left out.
func ExtractSection(dir, marker string) (map[string]string, error) {
	files, err := markdownFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, path := range files {
		doc, content, err := readDocument(path)
		if err != nil {
			continue
		}
		if text := sectionAfter(content, marker); text != "" {
			out[doc.Title] = text
		}
	}
	return out, nil
}

// ExtractYears maps each title in dir to its publication year. Files with
// no recognisable year are left out.
func ExtractYears(dir string) (map[string]int, error) {
	files, err := markdownFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, path := range files {
		doc, _, err := readDocument(path)
		if err != nil {
			continue
		}
		if doc.HasYear {
			out[doc.Title] = doc.Year
		}
	}
	return out, nil
}

// LoadDocuments reads every summary in dir and returns the complete ones
// sorted by title. Incomplete documents are reported to w and skipped. When
// two files share a title the later file wins.
func LoadDocuments(dir string, w io.Writer) ([]types.Document, LoadSummary, error) {
	files, err := markdownFiles(dir)
	if err != nil {
		return nil, LoadSummary{}, err
	}

	var summary LoadSummary
	byTitle := make(map[string]types.Document)
	for _, path := range files {
		doc, _, err := readDocument(path)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", filepath.Base(path), err)
			summary.Failed++
			continue
		}
		if !doc.Complete() {
			fmt.Fprintf(w, "skipped %s: missing %s\n", doc.Title, strings.Join(missing(doc), ", "))
			summary.Incomplete++
			continue
		}
		if _, dup := byTitle[doc.Title]; dup {
			fmt.Fprintf(w, "replaced %s: duplicate title in %s\n", doc.Title, filepath.Base(path))
		} else {
			summary.Loaded++
		}
		byTitle[doc.Title] = doc
	}

	docs := make([]types.Document, 0, len(byTitle))
	for _, d := range byTitle {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Title < docs[j].Title })
	return docs, summary, nil
}

func missing(doc types.Document) []string {
	var out []string
	for _, v := range types.Views {
		if strings.TrimSpace(doc.Text(v)) == "" {
			out = append(out, string(v))
		}
	}
	if !doc.HasYear {
		out = append(out, "year")
	}
	return out
}
