package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode"

	rpdf "rsc.io/pdf"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
)

// NativeConverter extracts text in process. It recovers reading order from glyph
// positions and marks lines set noticeably larger than body text as headings.
type NativeConverter struct {
	logger *slog.Logger
}

// NewNativeConverter constructs the converter.
func NewNativeConverter(logger *slog.Logger) *NativeConverter {
	return &NativeConverter{logger: logger.With("component", "pdf.native")}
}

// Name implements extractor.Converter.
func (c *NativeConverter) Name() string {
	return "native"
}

// Convert implements extractor.Converter.
func (c *NativeConverter) Convert(ctx context.Context, filename string, content []byte) (extractor.Conversion, error) {
	validated, err := PageCount(content)
	if err != nil {
		c.logger.Warn("structural validation failed, attempting text extraction anyway", "filename", filename, "error", err)
	}
	pages, err := readPages(ctx, content)
	if err != nil {
		return extractor.Conversion{}, err
	}
	count := len(pages)
	if validated > count {
		count = validated
	}
	return extractor.Conversion{Text: renderDocument(pages), Pages: count}, nil
}

// readPages returns the positioned text runs of every page.
func readPages(ctx context.Context, content []byte) (pages [][]rpdf.Text, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	pages = make([][]rpdf.Text, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, nil)
			continue
		}
		runs := page.Content().Text
		if hasZeroWidths(runs) {
			runs = layoutRuns(page)
		}
		pages = append(pages, runs)
	}
	return pages, nil
}

type textLine struct {
	y    float64
	size float64
	text string
}

func renderDocument(pages [][]rpdf.Text) string {
	body := bodyFontSize(pages)
	var blocks []string
	for _, page := range pages {
		blocks = append(blocks, renderPage(buildLines(page), body)...)
	}
	return strings.Join(blocks, "\n\n")
}

// bodyFontSize is the font size carrying the most characters.
func bodyFontSize(pages [][]rpdf.Text) float64 {
	weights := map[float64]int{}
	for _, page := range pages {
		for _, t := range page {
			if strings.TrimSpace(t.S) == "" {
				continue
			}
			weights[math.Round(t.FontSize*2)/2] += len(t.S)
		}
	}
	best, bestWeight := 0.0, -1
	for size, weight := range weights {
		if weight > bestWeight || (weight == bestWeight && size < best) {
			best, bestWeight = size, weight
		}
	}
	return best
}

// buildLines groups runs sharing a baseline and joins them left to right.
func buildLines(runs []rpdf.Text) []textLine {
	if len(runs) == 0 {
		return nil
	}
	sorted := make([]rpdf.Text, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines []textLine
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && math.Abs(sorted[i].Y-sorted[start].Y) <= baselineTolerance(sorted[start]) {
			continue
		}
		if line, ok := joinLine(sorted[start:i]); ok {
			lines = append(lines, line)
		}
		start = i
	}
	return lines
}

func baselineTolerance(t rpdf.Text) float64 {
	return math.Max(t.FontSize*0.4, 1)
}

func joinLine(runs []rpdf.Text) (textLine, bool) {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].X < runs[j].X })
	var builder strings.Builder
	size := 0.0
	var prev *rpdf.Text
	for i := range runs {
		run := runs[i]
		if run.S == "" {
			continue
		}
		if prev != nil && needsSpace(*prev, run, builder.String()) {
			builder.WriteByte(' ')
		}
		builder.WriteString(run.S)
		size = math.Max(size, run.FontSize)
		prev = &runs[i]
	}
	text := strings.Join(strings.Fields(builder.String()), " ")
	if text == "" {
		return textLine{}, false
	}
	return textLine{y: runs[0].Y, size: size, text: text}, true
}

func needsSpace(prev, next rpdf.Text, sofar string) bool {
	if strings.HasSuffix(sofar, " ") || strings.HasPrefix(next.S, " ") {
		return false
	}
	gap := next.X - (prev.X + prev.W)
	return gap > math.Max(prev.FontSize, next.FontSize)*0.15
}

// renderPage folds lines into markdown blocks: headings and paragraphs.
func renderPage(lines []textLine, body float64) []string {
	var blocks []string
	var paragraph strings.Builder
	flush := func() {
		if paragraph.Len() > 0 {
			blocks = append(blocks, paragraph.String())
			paragraph.Reset()
		}
	}
	for i, line := range lines {
		if isHeading(line, body) {
			flush()
			blocks = append(blocks, "## "+line.text)
			continue
		}
		if i > 0 && !isHeading(lines[i-1], body) && lines[i-1].y-line.y > paragraphGap(line, body) {
			flush()
		}
		appendLine(&paragraph, line.text)
	}
	flush()
	return blocks
}

func isHeading(line textLine, body float64) bool {
	if body <= 0 || len(line.text) > 150 {
		return false
	}
	return line.size >= body*1.25 && strings.IndexFunc(line.text, unicode.IsLetter) >= 0
}

func paragraphGap(line textLine, body float64) float64 {
	size := body
	if size <= 0 {
		size = line.size
	}
	return size * 1.8
}

// appendLine joins wrapped lines, removing end-of-line hyphenation.
func appendLine(paragraph *strings.Builder, text string) {
	current := paragraph.String()
	if current == "" {
		paragraph.WriteString(text)
		return
	}
	if strings.HasSuffix(current, "-") && len(current) > 1 {
		before := []rune(current)
		if unicode.IsLetter(before[len(before)-2]) && startsLower(text) {
			paragraph.Reset()
			paragraph.WriteString(current[:len(current)-1])
			paragraph.WriteString(text)
			return
		}
	}
	paragraph.WriteByte(' ')
	paragraph.WriteString(text)
}

func startsLower(text string) bool {
	for _, r := range text {
		return unicode.IsLower(r)
	}
	return false
}

var _ extractor.Converter = (*NativeConverter)(nil)
