package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Renderer writes command results as a table, JSON or YAML.
type Renderer struct {
	w       io.Writer
	format  string
	width   int
	glamour *glamour.TermRenderer
}

// NewRenderer creates a renderer for format with the given terminal width.
func NewRenderer(w io.Writer, format string, width int) (*Renderer, error) {
	switch format {
	case "", FormatTable:
		format = FormatTable
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unknown output format %q (table, json, yaml)", format)
	}
	if width <= 0 {
		width = 80
	}
	g, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{w: w, format: format, width: width, glamour: g}, nil
}

// Structured reports whether output is machine readable.
func (r *Renderer) Structured() bool {
	return r.format != FormatTable
}

// Render prints v. In table mode headers and rows are used instead of v.
func (r *Renderer) Render(v any, headers []string, rows [][]string) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		return r.yaml(v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(r.w, lipgloss.NewStyle().Foreground(colorGray).Render("(none)"))
		return err
	}
	_, err := fmt.Fprintln(r.w, r.Table(headers, rows))
	return err
}

// yaml goes through JSON so field names follow the API's json tags.
func (r *Renderer) yaml(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

// Table lays rows out with a styled header.
func (r *Renderer) Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// Fields prints a single record as label/value lines.
func (r *Renderer) Fields(v any, pairs [][2]string) error {
	if r.Structured() {
		return r.Render(v, nil, nil)
	}
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	var sb strings.Builder
	for _, p := range pairs {
		sb.WriteString(fmt.Sprintf("  %s  %s\n", labelStyle.Render(fmt.Sprintf("%-*s", width, p[0])), valueStyle.Render(p[1])))
	}
	_, err := io.WriteString(r.w, sb.String())
	return err
}

// Success prints a confirmation line; silent in structured mode unless v is set.
func (r *Renderer) Success(msg string, v any) error {
	if r.Structured() {
		if v == nil {
			return nil
		}
		return r.Render(v, nil, nil)
	}
	_, err := fmt.Fprintf(r.w, "%s %s\n", lipgloss.NewStyle().Foreground(colorGreen).Render("✓"), msg)
	return err
}

// Markdown renders md for the terminal, raw text when rendering fails.
func (r *Renderer) Markdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// Println writes a plain line in table mode only.
func (r *Renderer) Println(s string) {
	if !r.Structured() {
		fmt.Fprintln(r.w, s)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func firstLine(s string, maxLen int) string {
	first := strings.SplitN(s, "\n", 2)[0]
	r := []rune(first)
	if len(r) > maxLen {
		return string(r[:maxLen]) + "…"
	}
	return first
}
