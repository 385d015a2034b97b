package knowledge

import (
	"strings"
	"unicode"
)

// Default chunking parameters, in runes.
const (
	ChunkSize    = 1000
	ChunkOverlap = 200

	breakLookBehind = 100
	breakLookAhead  = 50
)

// breakers report the length of a break match starting at r[i], or 0.
// They are tried in order: paragraph, sentence end, comma, whitespace.
var breakers = []func(r []rune, i, end int) int{
	func(r []rune, i, end int) int {
		if i+1 < end && r[i] == '\n' && r[i+1] == '\n' {
			return 2
		}
		return 0
	},
	punctBreak("。．！？"),
	punctBreak("、，"),
	func(r []rune, i, end int) int {
		return spaceRun(r, i, end)
	},
}

func punctBreak(set string) func(r []rune, i, end int) int {
	return func(r []rune, i, end int) int {
		if !strings.ContainsRune(set, r[i]) {
			return 0
		}
		return 1 + spaceRun(r, i+1, end)
	}
}

func spaceRun(r []rune, i, end int) int {
	n := 0
	for i+n < end && unicode.IsSpace(r[i+n]) {
		n++
	}
	return n
}

// Chunk splits text into pieces of about size runes that overlap by overlap
// runes. Cuts prefer a paragraph break, then a sentence end, then a comma,
// then whitespace, searched around the nominal end; failing all of those the
// text is cut at size. Empty chunks are dropped.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = ChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	r := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}
	if len(r) <= size {
		return []string{strings.TrimSpace(text)}
	}

	var chunks []string
	start := 0
	for start < len(r) {
		end := start + size
		if end >= len(r) {
			chunks = appendChunk(chunks, r[start:])
			break
		}

		cut := findBreak(r, start, end, size)
		chunks = appendChunk(chunks, r[start:cut])

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

func findBreak(r []rune, start, end, size int) int {
	from := max(end-breakLookBehind, start)
	to := min(end+breakLookAhead, len(r))

	for _, match := range breakers {
		cut := -1
		for i := from; i < to; {
			n := match(r, i, to)
			if n == 0 {
				i++
				continue
			}
			pos := i + n
			if pos <= end+breakLookAhead && pos > start+size/2 {
				cut = pos
			}
			i = pos
		}
		if cut > 0 {
			return cut
		}
	}
	return end
}

func appendChunk(chunks []string, r []rune) []string {
	if s := strings.TrimSpace(string(r)); s != "" {
		return append(chunks, s)
	}
	return chunks
}
