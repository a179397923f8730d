package highlight

import (
	"math"
	"strings"
	"unicode/utf8"

	"docchat/types"
)

const maxRectsPerPage = 6

// Find looks for snippet on the pages, trying preferPage first. Matching
// ignores case and whitespace differences. On the first page that contains
// the snippet it returns that page number and up to six line rectangles
// covering the matched glyphs.
func Find(pages []types.Page, snippet string, preferPage int) (int, []types.Rect, bool) {
	needle, _ := normalize(snippet)
	if needle == "" {
		return 0, nil, false
	}

	order := make([]int, 0, len(pages))
	for i, p := range pages {
		if p.Number == preferPage {
			order = append([]int{i}, order...)
			continue
		}
		order = append(order, i)
	}

	for _, i := range order {
		if rects := findOnPage(pages[i], needle); len(rects) > 0 {
			return pages[i].Number, rects, true
		}
	}
	return 0, nil, false
}

func findOnPage(page types.Page, needle string) []types.Rect {
	hay, index := normalize(page.Text)
	var rects []types.Rect
	for from := 0; from < len(hay) && len(rects) < maxRectsPerPage; {
		pos := strings.Index(hay[from:], needle)
		if pos < 0 {
			break
		}
		start := from + pos
		end := start + len(needle)

		origStart := index[start]
		last := index[end-1]
		_, size := utf8.DecodeRuneInString(page.Text[last:])
		origEnd := last + size

		for _, r := range lineRects(page, glyphsIn(page, origStart, origEnd)) {
			if len(rects) == maxRectsPerPage {
				break
			}
			rects = append(rects, r)
		}
		from = end
	}
	return rects
}

// glyphsIn returns the distinct glyph indices behind Text[start:end], in
// reading order.
func glyphsIn(page types.Page, start, end int) []int {
	var out []int
	prev := -1
	for i := start; i < end && i < len(page.Offsets); i++ {
		g := page.Offsets[i]
		if g < 0 || g == prev {
			continue
		}
		out = append(out, g)
		prev = g
	}
	return out
}

// lineRects groups glyphs sharing a baseline and returns one rectangle per
// line.
func lineRects(page types.Page, glyphs []int) []types.Rect {
	var (
		rects []types.Rect
		cur   types.Rect
		baseY float64
		size  float64
		open  bool
	)
	flush := func() {
		if open {
			cur.LLY -= 0.2 * size
			cur.URY += 0.8 * size
			rects = append(rects, cur)
		}
	}

	for _, gi := range glyphs {
		g := page.Glyphs[gi]
		fs := g.FontSize
		if fs <= 0 {
			fs = 10
		}
		if !open || math.Abs(g.Y-baseY) > 0.5*math.Max(fs, size) {
			flush()
			cur = types.Rect{LLX: g.X, LLY: g.Y, URX: g.X + g.W, URY: g.Y}
			baseY, size, open = g.Y, fs, true
			continue
		}
		cur.LLX = math.Min(cur.LLX, g.X)
		cur.URX = math.Max(cur.URX, g.X+g.W)
		cur.LLY = math.Min(cur.LLY, g.Y)
		cur.URY = math.Max(cur.URY, g.Y)
		size = math.Max(size, fs)
	}
	flush()
	return rects
}
