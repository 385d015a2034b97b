// Package knowledge builds the tenant's cached context and owns the write
// paths that change it.
package knowledge

import (
	"fmt"
	"strings"

	"github.com/artouc/ego-graphica/internal/store"
)

// Source limits for the knowledge summary.
const (
	SummaryWorks      = 50
	SummaryFiles      = 20
	SummaryURLs       = 20
	searchablePreview = 200
)

// BuildSummary renders works, files and URLs (each newest first) into the
// knowledge summary. Empty sources are left out.
func BuildSummary(works []store.Work, files []store.File, urls []store.SourceURL) string {
	var sections []string

	if len(works) > 0 {
		lines := []string{"## 作品一覧"}
		for _, w := range works[:min(len(works), SummaryWorks)] {
			line := "- " + w.Title
			if w.Description != "" {
				line += ": " + w.Description
			}
			if w.Sold {
				line += "（売約済み）"
			}
			if s := strings.TrimSpace(w.Searchable); s != "" {
				line += "\n  " + truncateRunes(s, searchablePreview)
			}
			lines = append(lines, line)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(files) > 0 {
		lines := []string{"## 参考資料"}
		for _, f := range files[:min(len(files), SummaryFiles)] {
			lines = append(lines, "- "+firstNonEmpty(f.Title, f.Filename))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(urls) > 0 {
		lines := []string{"## 参考リンク"}
		for _, u := range urls[:min(len(urls), SummaryURLs)] {
			lines = append(lines, "- "+firstNonEmpty(u.Title, u.URL))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// workText is the text embedded for a work.
func workText(w *store.Work) string {
	parts := []string{w.Title}
	if w.Description != "" {
		parts = append(parts, w.Description)
	}
	if w.Searchable != "" {
		parts = append(parts, w.Searchable)
	}
	return strings.Join(parts, "\n")
}

func chunkID(kind, source string, i int) string {
	return fmt.Sprintf("%s_%s_chunk_%d", kind, source, i)
}
