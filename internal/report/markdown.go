package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/redblackgraph/fscrawl/internal/database"
)

// MarkdownWriter renders a crawl summary in Markdown, for sharing the
// shape of a finished (or in-progress) crawl without shipping the
// database around.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write renders the full report: run status, the per-iteration table,
// and the edge span distribution.
func (w *MarkdownWriter) Write(status *database.Status, log []database.IterationStats) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, status)
	w.writeIterations(md, log)
	w.writeEdgeSpans(md, log)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with run state.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, status *database.Status) {
	md.H1("Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Run Status", w.statusText(status.RunStatus)},
		{"Persons", strconv.Itoa(status.Vertices)},
		{"Edges", strconv.Itoa(status.Edges)},
		{"Frontier Depth", strconv.Itoa(status.FrontierDepth)},
		{"In Flight", strconv.Itoa(status.ProcessingDepth)},
		{"Last Iteration", strconv.Itoa(status.LastIteration)},
	}
	if status.LastCheckpointEvent != "" {
		rows = append(rows, []string{"Last Checkpoint",
			status.LastCheckpointEvent + " at " + status.LastCheckpointAt})
	}
	if status.Throttle != nil {
		rows = append(rows, []string{"Request Rate",
			fmt.Sprintf("%.1f rps", status.Throttle.RequestsPerSecond)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// statusText decorates the run status for the header table.
func (w *MarkdownWriter) statusText(status string) string {
	switch status {
	case database.StatusDone:
		return "✅ " + status
	case database.StatusAborted:
		return "❌ " + status
	case database.StatusPaused:
		return "⏸️ " + status
	default:
		return status
	}
}

// writeIterations writes one row per completed hop.
func (w *MarkdownWriter) writeIterations(md *markdown.Markdown, log []database.IterationStats) {
	md.H2("Iterations")
	md.PlainText("")

	if len(log) == 0 {
		md.PlainText("No iteration has completed yet.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(log))
	for _, s := range log {
		rows = append(rows, []string{
			strconv.Itoa(s.Iteration),
			fmt.Sprintf("%.1fs", s.DurationS),
			strconv.Itoa(s.Vertices),
			strconv.Itoa(s.Frontier),
			strconv.Itoa(s.Edges),
			strconv.Itoa(s.SpanningEdges),
			strconv.Itoa(s.FrontierEdges),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Hop", "Duration", "Vertices", "Frontier", "Edges", "Spanning", "Frontier Edges"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeEdgeSpans writes a mermaid pie chart of the final edge span
// distribution.
func (w *MarkdownWriter) writeEdgeSpans(md *markdown.Markdown, log []database.IterationStats) {
	if len(log) == 0 {
		return
	}
	last := log[len(log)-1]
	if last.Edges+last.SpanningEdges+last.FrontierEdges == 0 {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Edge Span Distribution"),
		piechart.WithShowData(true),
	)
	if last.Edges > 0 {
		chart.LabelAndIntValue("Within crawl", uint64(last.Edges))
	}
	if last.SpanningEdges > 0 {
		chart.LabelAndIntValue("Spanning", uint64(last.SpanningEdges))
	}
	if last.FrontierEdges > 0 {
		chart.LabelAndIntValue("Frontier", uint64(last.FrontierEdges))
	}

	md.H2("Edge Spans")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("Generated by fscrawl.")
}
