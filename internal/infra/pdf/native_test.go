package pdf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	rpdf "rsc.io/pdf"
)

func TestBuildLinesOrdersRunsByPosition(t *testing.T) {
	runs := []rpdf.Text{
		{X: 120, Y: 700, W: 30, FontSize: 10, S: "world"},
		{X: 72, Y: 700.3, W: 40, FontSize: 10, S: "Hello"},
		{X: 72, Y: 720, W: 60, FontSize: 16, S: "Introduction"},
		{X: 72, Y: 688, W: 50, FontSize: 10, S: "again"},
	}

	lines := buildLines(runs)
	require.Len(t, lines, 3)
	require.Equal(t, "Introduction", lines[0].text)
	require.Equal(t, "Hello world", lines[1].text)
	require.Equal(t, "again", lines[2].text)
}

func TestBuildLinesKeepsAdjacentGlyphsTogether(t *testing.T) {
	runs := []rpdf.Text{
		{X: 72, Y: 700, W: 5, FontSize: 10, S: "I"},
		{X: 77, Y: 700, W: 5, FontSize: 10, S: "L"},
		{X: 82, Y: 700, W: 4, FontSize: 10, S: "-"},
		{X: 86, Y: 700, W: 5, FontSize: 10, S: "6"},
	}
	lines := buildLines(runs)
	require.Len(t, lines, 1)
	require.Equal(t, "IL-6", lines[0].text)
}

func TestRenderPageMarksHeadingsAndParagraphs(t *testing.T) {
	lines := []textLine{
		{y: 740, size: 16, text: "Methodology"},
		{y: 720, size: 10, text: "We enrolled 120 adults in a random-"},
		{y: 708, size: 10, text: "ized controlled trial."},
		{y: 670, size: 10, text: "Outcomes were measured weekly."},
	}

	blocks := renderPage(lines, 10)
	require.Equal(t, []string{
		"## Methodology",
		"We enrolled 120 adults in a randomized controlled trial.",
		"Outcomes were measured weekly.",
	}, blocks)
}

func TestBodyFontSizePrefersMostCharacters(t *testing.T) {
	pages := [][]rpdf.Text{{
		{FontSize: 18, S: "Title"},
		{FontSize: 10.2, S: "a long body sentence"},
		{FontSize: 9.9, S: "more body text"},
	}}
	require.InDelta(t, 10.0, bodyFontSize(pages), 1e-9)
}

func TestNativeConverterExtractsText(t *testing.T) {
	content := minimalPDF(helvetica,
		"BT /F1 18 Tf 72 720 Td (Results) Tj ET",
		"BT /F1 11 Tf 72 690 Td (Curcumin reduced IL-6 levels by 40%.) Tj ET",
	)

	conv, err := NewNativeConverter(newTestLogger()).Convert(context.Background(), "paper.pdf", content)
	require.NoError(t, err)
	require.Equal(t, 1, conv.Pages)
	require.Equal(t, "## Results\n\nCurcumin reduced IL-6 levels by 40%.", conv.Text)
}

func TestNativeConverterUsesFontWidths(t *testing.T) {
	content := minimalPDF(helveticaWithWidths(),
		"BT /F1 18 Tf 72 720 Td (Results) Tj ET",
		"BT /F1 11 Tf 72 690 Td (Curcumin reduced IL-6 levels by 40%.) Tj ET",
	)

	conv, err := NewNativeConverter(newTestLogger()).Convert(context.Background(), "paper.pdf", content)
	require.NoError(t, err)
	require.Equal(t, "## Results\n\nCurcumin reduced IL-6 levels by 40%.", conv.Text)
}

func TestNativeConverterHonoursKerningWithoutWidths(t *testing.T) {
	content := minimalPDF(helvetica,
		"BT /F1 11 Tf 72 690 Td [(Curcumin) -300 (reduced) ( IL) -10 (-6)] TJ ET",
		"BT /F1 11 Tf 72 676 Td (second line) Tj ET",
	)

	conv, err := NewNativeConverter(newTestLogger()).Convert(context.Background(), "paper.pdf", content)
	require.NoError(t, err)
	require.Equal(t, "Curcumin reduced IL-6 second line", conv.Text)
}

func TestHasZeroWidths(t *testing.T) {
	require.False(t, hasZeroWidths(nil))
	require.False(t, hasZeroWidths([]rpdf.Text{{S: "a", W: 5}, {S: "b"}}))
	require.True(t, hasZeroWidths([]rpdf.Text{{S: "a"}, {S: " ", W: 3}, {S: "b"}}))
}

func TestNativeConverterRejectsMalformedInput(t *testing.T) {
	_, err := NewNativeConverter(newTestLogger()).Convert(context.Background(), "broken.pdf", []byte("%PDF-1.4\nthis is not a pdf"))
	require.Error(t, err)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const helvetica = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"

// helveticaWithWidths declares 278 for the space and 500 for every other printable glyph.
func helveticaWithWidths() string {
	widths := make([]string, 0, 95)
	widths = append(widths, "278")
	for c := 33; c <= 126; c++ {
		widths = append(widths, "500")
	}
	return "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [" +
		strings.Join(widths, " ") + "] >>"
}

// minimalPDF builds a single page document using font as /F1 with the given content operators.
func minimalPDF(font string, ops ...string) []byte {
	stream := strings.Join(ops, "\n")
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		font,
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}
