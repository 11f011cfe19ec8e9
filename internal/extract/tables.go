package extract

import (
	"math"
	"sort"
	"strings"
)

const (
	// minCellSize drops hairlines and dots drawn with the rectangle operator.
	minCellSize = 2.0
	// edgeTol is how far apart, in points, two cells may be and still belong
	// to the same grid.
	edgeTol = 1.0
	// rowTol groups cells whose top edges differ by at most this much.
	rowTol = 2.0
)

// box is an axis-aligned rectangle in page space with X0<=X1 and Y0<=Y1.
type box struct {
	X0, Y0, X1, Y1 float64
}

func newBox(ax, ay, bx, by float64) box {
	return box{
		X0: math.Min(ax, bx), Y0: math.Min(ay, by),
		X1: math.Max(ax, bx), Y1: math.Max(ay, by),
	}
}

func (b box) width() float64  { return b.X1 - b.X0 }
func (b box) height() float64 { return b.Y1 - b.Y0 }
func (b box) area() float64   { return b.width() * b.height() }

func (b box) contains(x, y float64) bool {
	return x >= b.X0-edgeTol/2 && x <= b.X1+edgeTol/2 && y >= b.Y0-edgeTol/2 && y <= b.Y1+edgeTol/2
}

func (b box) touches(o box) bool {
	return b.X0 <= o.X1+edgeTol && o.X0 <= b.X1+edgeTol && b.Y0 <= o.Y1+edgeTol && o.Y0 <= b.Y1+edgeTol
}

func (b box) same(o box) bool {
	return math.Abs(b.X0-o.X0) < edgeTol && math.Abs(b.X1-o.X1) < edgeTol &&
		math.Abs(b.Y0-o.Y0) < edgeTol && math.Abs(b.Y1-o.Y1) < edgeTol
}

func (b box) encloses(o box) bool {
	return o.X0 >= b.X0-edgeTol && o.X1 <= b.X1+edgeTol && o.Y0 >= b.Y0-edgeTol && o.Y1 <= b.Y1+edgeTol
}

// tableText renders the ruled tables of every page. Only cells painted as
// rectangles are seen; grids stroked from separate line segments yield no
// tables. A page whose layout cannot be read, or that panics while being
// analysed, yields no tables.
func tableText(src pageSource) string {
	var tables []string
	for i := 1; i <= src.NumPage(); i++ {
		tables = append(tables, pageTables(src, i)...)
	}
	return strings.Join(tables, "\n")
}

func pageTables(src pageSource, n int) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()
	glyphs, boxes, err := src.PageLayout(n)
	if err != nil {
		return nil
	}
	return tablesOnPage(glyphs, boxes)
}

// tablesOnPage groups touching cells into grids and renders each grid with
// cells joined by " " and rows by "\n". Grids of fewer than two cells and
// grids without any text are skipped.
func tablesOnPage(glyphs []glyph, boxes []box) []string {
	groups := groupTouching(leafCells(boxes))
	sort.SliceStable(groups, func(i, j int) bool {
		ti, tj := top(groups[i]), top(groups[j])
		if ti != tj {
			return ti > tj
		}
		return left(groups[i]) < left(groups[j])
	})
	var out []string
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		if t := renderTable(g, glyphs); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// leafCells drops degenerate rectangles, duplicates and rectangles that
// enclose other rectangles (table frames).
func leafCells(boxes []box) []box {
	var uniq []box
	for _, b := range boxes {
		if b.width() < minCellSize || b.height() < minCellSize {
			continue
		}
		dup := false
		for _, u := range uniq {
			if u.same(b) {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, b)
		}
	}
	var out []box
	for i, b := range uniq {
		frame := false
		for j, o := range uniq {
			if i != j && b.encloses(o) && b.area() > o.area() {
				frame = true
				break
			}
		}
		if !frame {
			out = append(out, b)
		}
	}
	return out
}

func groupTouching(cells []box) [][]box {
	parent := make([]int, len(cells))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range cells {
		for j := i + 1; j < len(cells); j++ {
			if cells[i].touches(cells[j]) {
				parent[find(i)] = find(j)
			}
		}
	}
	index := map[int]int{}
	var groups [][]box
	for i, c := range cells {
		r := find(i)
		k, ok := index[r]
		if !ok {
			k = len(groups)
			index[r] = k
			groups = append(groups, nil)
		}
		groups[k] = append(groups[k], c)
	}
	return groups
}

func top(cells []box) float64 {
	t := math.Inf(-1)
	for _, c := range cells {
		t = math.Max(t, c.Y1)
	}
	return t
}

func left(cells []box) float64 {
	l := math.Inf(1)
	for _, c := range cells {
		l = math.Min(l, c.X0)
	}
	return l
}

func renderTable(cells []box, glyphs []glyph) string {
	texts := make([]strings.Builder, len(cells))
	for _, g := range glyphs {
		x := g.X + g.W/2
		best := -1
		for i, c := range cells {
			if c.contains(x, g.Y) && (best < 0 || c.area() < cells[best].area()) {
				best = i
			}
		}
		if best >= 0 {
			texts[best].WriteString(g.S)
		}
	}

	order := make([]int, len(cells))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cells[order[a]].Y1 > cells[order[b]].Y1
	})
	var rows [][]int
	for _, i := range order {
		if n := len(rows); n > 0 && math.Abs(cells[rows[n-1][0]].Y1-cells[i].Y1) <= rowTol {
			rows[n-1] = append(rows[n-1], i)
			continue
		}
		rows = append(rows, []int{i})
	}

	lines := make([]string, 0, len(rows))
	hasText := false
	for _, row := range rows {
		sort.SliceStable(row, func(a, b int) bool { return cells[row[a]].X0 < cells[row[b]].X0 })
		parts := make([]string, len(row))
		for k, i := range row {
			parts[k] = strings.TrimSpace(texts[i].String())
			if parts[k] != "" {
				hasText = true
			}
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	if !hasText {
		return ""
	}
	return strings.Join(lines, "\n")
}
