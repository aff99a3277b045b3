package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/epsscache/internal/epss"
)

// Output formats.
const (
	formatJSON  = "json"
	formatCSV   = "csv"
	formatTable = "table"
)

// headerColor is the Lip Gloss color used for table headers.
func headerColor() lipgloss.Color { return lipgloss.Color("39") }

// isWriterTerminal reports whether w is a terminal.
func isWriterTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isTerminal(f)
	}
	return false
}

// resolveFormat picks the output format: the requested one, otherwise a table
// for terminals and JSON for pipes.
func resolveFormat(requested string, w io.Writer) string {
	if requested != "" {
		return requested
	}
	if isWriterTerminal(w) {
		return formatTable
	}
	return formatJSON
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var recordColumns = []string{"cve", "epss", "percentile", "date"}

// recordRows flattens records; each time-series point becomes its own row.
func recordRows(records []epss.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.CVE, r.EPSS, r.Percentile, r.Date})
		for _, p := range r.TimeSeries {
			rows = append(rows, []string{r.CVE, p.EPSS, p.Percentile, p.Date})
		}
	}
	return rows
}

// writeResponse renders an API response in format.
func writeResponse(w io.Writer, format string, resp *epss.Response) error {
	switch format {
	case formatCSV:
		return writeCSV(w, recordColumns, recordRows(resp.Data))
	case formatTable:
		if err := writeTable(w, recordColumns, recordRows(resp.Data)); err != nil {
			return err
		}
		p := message.NewPrinter(language.English)
		_, err := p.Fprintf(w, "\n%d of %d records\n", len(resp.Data), max(resp.Total, len(resp.Data)))
		return err
	default:
		return writeJSON(w, resp)
	}
}

// field is one name/value pair of a key-value listing.
type field struct {
	Name  string
	Value string
}

// writeFields renders a key-value listing. JSON output encodes jsonValue
// instead so numbers keep their types.
func writeFields(w io.Writer, format string, fields []field, jsonValue any) error {
	rows := make([][]string, len(fields))
	for i, f := range fields {
		rows[i] = []string{f.Name, f.Value}
	}

	switch format {
	case formatCSV:
		return writeCSV(w, []string{"name", "value"}, rows)
	case formatTable:
		return writeTable(w, []string{"NAME", "VALUE"}, rows)
	default:
		return writeJSON(w, jsonValue)
	}
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// writeTable renders rows as aligned columns. Headers are styled only on a
// terminal.
func writeTable(w io.Writer, header []string, rows [][]string) error {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	headerStyle := lipgloss.NewStyle()
	if isWriterTerminal(w) {
		headerStyle = headerStyle.Bold(true).Foreground(headerColor())
	}

	var b strings.Builder
	writeTableRow(&b, upper(header), widths, headerStyle)
	for _, row := range rows {
		writeTableRow(&b, row, widths, lipgloss.NewStyle())
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeTableRow(b *strings.Builder, cells []string, widths []int, style lipgloss.Style) {
	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		padded := cell
		if i < len(cells)-1 {
			padded += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		b.WriteString(style.Render(padded))
	}
	b.WriteString("\n")
}

func upper(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToUpper(v)
	}
	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
