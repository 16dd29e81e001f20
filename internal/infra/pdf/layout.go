package pdf

import (
	"strings"

	rpdf "rsc.io/pdf"
)

// Advances in thousandths of an em, used when a font carries no /Widths array. The
// standard 14 fonts may omit it, in which case rsc.io/pdf reports every glyph at the
// same position with zero width.
const (
	fallbackGlyphAdvance = 500
	fallbackSpaceAdvance = 278
)

// hasZeroWidths reports whether every visible run on a page lacks a width.
func hasZeroWidths(runs []rpdf.Text) bool {
	seen := false
	for _, run := range runs {
		if strings.TrimSpace(run.S) == "" {
			continue
		}
		if run.W != 0 {
			return false
		}
		seen = true
	}
	return seen
}

// affine is a PDF transformation matrix [a b c d e f].
type affine [6]float64

var identity = affine{1, 0, 0, 1, 0, 0}

func translate(tx, ty float64) affine {
	return affine{1, 0, 0, 1, tx, ty}
}

// mul returns m applied before n.
func (m affine) mul(n affine) affine {
	return affine{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

type textState struct {
	ctm     affine
	tm      affine
	tlm     affine
	font    rpdf.Font
	enc     rpdf.TextEncoding
	size    float64
	leading float64
	charSp  float64
	wordSp  float64
	scale   float64
}

// layoutRuns re-reads a page's text operators, emitting one run per glyph including
// spaces. Glyphs the font gives no width advance by a fixed fraction of an em, so word
// breaks and TJ kerning survive.
func layoutRuns(page rpdf.Page) []rpdf.Text {
	contents := page.V.Key("Contents")
	var streams []rpdf.Value
	if contents.Kind() == rpdf.Array {
		for i := 0; i < contents.Len(); i++ {
			streams = append(streams, contents.Index(i))
		}
	} else {
		streams = append(streams, contents)
	}

	st := textState{ctm: identity, tm: identity, tlm: identity, scale: 1}
	var saved []affine
	var out []rpdf.Text

	show := func(raw string) {
		if st.enc == nil {
			out = append(out, st.glyphs(raw, raw)...)
			return
		}
		out = append(out, st.glyphs(raw, st.enc.Decode(raw))...)
	}
	nextLine := func() {
		st.tlm = translate(0, -st.leading).mul(st.tlm)
		st.tm = st.tlm
	}

	for _, strm := range streams {
		if strm.Kind() != rpdf.Stream {
			continue
		}
		rpdf.Interpret(strm, func(stk *rpdf.Stack, op string) {
			args := make([]rpdf.Value, stk.Len())
			for i := len(args) - 1; i >= 0; i-- {
				args[i] = stk.Pop()
			}
			switch op {
			case "q":
				saved = append(saved, st.ctm)
			case "Q":
				if n := len(saved); n > 0 {
					st.ctm = saved[n-1]
					saved = saved[:n-1]
				}
			case "cm":
				if len(args) == 6 {
					st.ctm = matrixFrom(args).mul(st.ctm)
				}
			case "BT":
				st.tm, st.tlm = identity, identity
			case "Tf":
				if len(args) == 2 {
					st.font = page.Font(args[0].Name())
					st.enc = st.font.Encoder()
					st.size = args[1].Float64()
				}
			case "TL":
				if len(args) == 1 {
					st.leading = args[0].Float64()
				}
			case "Tc":
				if len(args) == 1 {
					st.charSp = args[0].Float64()
				}
			case "Tw":
				if len(args) == 1 {
					st.wordSp = args[0].Float64()
				}
			case "Tz":
				if len(args) == 1 {
					st.scale = args[0].Float64() / 100
				}
			case "TD", "Td":
				if len(args) == 2 {
					if op == "TD" {
						st.leading = -args[1].Float64()
					}
					st.tlm = translate(args[0].Float64(), args[1].Float64()).mul(st.tlm)
					st.tm = st.tlm
				}
			case "Tm":
				if len(args) == 6 {
					st.tlm = matrixFrom(args)
					st.tm = st.tlm
				}
			case "T*":
				nextLine()
			case "Tj":
				if len(args) == 1 {
					show(args[0].RawString())
				}
			case "'":
				if len(args) == 1 {
					nextLine()
					show(args[0].RawString())
				}
			case "\"":
				if len(args) == 3 {
					st.wordSp = args[0].Float64()
					st.charSp = args[1].Float64()
					nextLine()
					show(args[2].RawString())
				}
			case "TJ":
				if len(args) != 1 {
					return
				}
				for i := 0; i < args[0].Len(); i++ {
					item := args[0].Index(i)
					if item.Kind() == rpdf.String {
						show(item.RawString())
						continue
					}
					tx := -item.Float64() / 1000 * st.size * st.scale
					st.tm = translate(tx, 0).mul(st.tm)
				}
			}
		})
	}
	return out
}

// glyphs positions each decoded character of raw and advances the text matrix.
func (st *textState) glyphs(raw, decoded string) []rpdf.Text {
	name := ""
	if !st.font.V.IsNull() {
		name = st.font.BaseFont()
		if i := strings.Index(name, "+"); i >= 0 {
			name = name[i+1:]
		}
	}
	var out []rpdf.Text
	n := 0
	for _, ch := range decoded {
		advance := 0.0
		if n < len(raw) && !st.font.V.IsNull() {
			advance = st.font.Width(int(raw[n]))
		}
		n++
		if advance == 0 {
			advance = fallbackGlyphAdvance
			if ch == ' ' {
				advance = fallbackSpaceAdvance
			}
		}
		trm := affine{st.size * st.scale, 0, 0, st.size, 0, 0}.mul(st.tm).mul(st.ctm)
		out = append(out, rpdf.Text{
			Font:     name,
			FontSize: trm[0],
			X:        trm[4],
			Y:        trm[5],
			W:        advance / 1000 * trm[0],
			S:        string(ch),
		})
		tx := advance/1000*st.size + st.charSp
		if ch == ' ' {
			tx += st.wordSp
		}
		st.tm = translate(tx*st.scale, 0).mul(st.tm)
	}
	return out
}

func matrixFrom(args []rpdf.Value) affine {
	var m affine
	for i := range m {
		m[i] = args[i].Float64()
	}
	return m
}
