package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"multirag/internal/domain"
)

// defaultSeparators are tried in order; the empty separator falls back to
// single-character pieces so size and overlap can always be honoured.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveChunker splits text on the coarsest natural boundary that keeps
// pieces within the recipe's chunk size, then packs pieces into overlapping
// windows. Sizes are measured in characters (runes).
type RecursiveChunker struct {
	separators []string
}

func NewRecursiveChunker() *RecursiveChunker {
	return &RecursiveChunker{separators: defaultSeparators}
}

// Chunk splits doc under recipe. The result is deterministic and never
// contains whitespace-only chunks.
func (c *RecursiveChunker) Chunk(doc domain.Document, recipe domain.Recipe) []domain.Chunk {
	texts := c.Split(doc.Text, recipe)
	if len(texts) == 0 {
		return nil
	}

	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			RecipeName: recipe.Name,
			SourcePath: doc.Path,
			Index:      i,
			Text:       text,
		}
	}
	return chunks
}

// Split returns the ordered chunk texts for text under recipe.
func (c *RecursiveChunker) Split(text string, recipe domain.Recipe) []string {
	if recipe.ChunkSize <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	overlap := recipe.ChunkOverlap
	if overlap < 0 || overlap >= recipe.ChunkSize {
		overlap = 0
	}

	pieces := c.splitRecursive(text, recipe.ChunkSize, c.separators)
	return c.mergePieces(pieces, recipe.ChunkSize, overlap)
}

func (c *RecursiveChunker) splitRecursive(text string, size int, separators []string) []string {
	if runeLen(text) <= size {
		return []string{text}
	}

	sepIdx := len(separators) - 1
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			sepIdx = i
			break
		}
	}
	sep := separators[sepIdx]
	if sep == "" {
		return splitRunes(text)
	}

	var pieces []string
	for _, part := range splitKeepSeparator(text, sep) {
		if runeLen(part) <= size {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, c.splitRecursive(part, size, separators[sepIdx+1:])...)
	}
	return pieces
}

// mergePieces packs pieces into windows of at most size runes, carrying up to
// overlap runes of trailing text into the next window. A piece longer than
// overlap that would otherwise be dropped whole is re-split so its tail
// still reaches the next window.
func (c *RecursiveChunker) mergePieces(pieces []string, size, overlap int) []string {
	var (
		out    []string
		window []string
		lens   []int
		total  int
	)

	emit := func() {
		text := strings.TrimFunc(strings.Join(window, ""), unicode.IsSpace)
		if text != "" {
			out = append(out, text)
		}
	}

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > size && len(window) > 0 {
			emit()
			var dropped string
			for len(window) > 0 && (total > overlap || total+n > size) {
				dropped = window[0]
				total -= lens[0]
				window = window[1:]
				lens = lens[1:]
			}
			if room := min(overlap, size-n) - total; room > 0 && runeLen(dropped) > overlap {
				tail, tailLens := c.tail(dropped, room)
				window = append(tail, window...)
				lens = append(tailLens, lens...)
				for _, l := range tailLens {
					total += l
				}
			}
		}
		window = append(window, p)
		lens = append(lens, n)
		total += n
	}
	if len(window) > 0 {
		emit()
	}
	return out
}

// tail returns the trailing sub-pieces of text that fit in room runes, split
// on the coarsest boundary that allows it.
func (c *RecursiveChunker) tail(text string, room int) ([]string, []int) {
	sub := c.splitRecursive(text, room, c.separators)
	start, used := len(sub), 0
	for start > 0 {
		n := runeLen(sub[start-1])
		if used+n > room {
			break
		}
		used += n
		start--
	}

	pieces := sub[start:]
	lens := make([]int, len(pieces))
	for i, p := range pieces {
		lens[i] = runeLen(p)
	}
	return pieces, lens
}

// splitKeepSeparator splits s on sep, leaving sep attached to the end of each
// part so that concatenating the parts reproduces s.
func splitKeepSeparator(s, sep string) []string {
	parts := strings.SplitAfter(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
