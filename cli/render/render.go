// Package render writes ucdsync command responses.
//
// A TTY defaults to table output and anything else to json; --format
// overrides the default. Table output colors workflow states unless
// --no-color is set.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/ucdsync/cli/tui"
	"github.com/pithecene-io/ucdsync/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var formats = map[string]Format{
	"json":  FormatJSON,
	"table": FormatTable,
	"yaml":  FormatYAML,
}

// ParseFormat parses --format. An empty string yields an empty Format so the
// caller can pick the default.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	if f, ok := formats[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer writes command responses to out.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a stdout renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter builds a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Render writes one response in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI runs the interactive view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

// Lines writes one value per line in table format, so version and file
// lists pipe cleanly. Other formats render the list as is.
func (r *Renderer) Lines(items []string) error {
	if r.format != FormatTable {
		return r.Render(items)
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(r.out, item); err != nil {
			return err
		}
	}
	return nil
}

// renderTable writes a single response as "field: value" lines and a slice
// of responses as aligned rows under a header. A []string prints one item
// per line.
func (r *Renderer) renderTable(data any) error {
	if items, ok := data.([]string); ok {
		if len(items) == 0 {
			_, err := fmt.Fprintln(r.out, "(no results)")
			return err
		}
		return r.Lines(items)
	}

	v := reflect.Indirect(reflect.ValueOf(data))
	switch {
	case v.Kind() == reflect.Struct:
		return r.writeRecord(v)
	case v.Kind() == reflect.Slice && structElem(v.Type()):
		return r.writeRows(v)
	default:
		return fmt.Errorf("table output does not support %T", data)
	}
}

func structElem(t reflect.Type) bool {
	e := t.Elem()
	if e.Kind() == reflect.Pointer {
		e = e.Elem()
	}
	return e.Kind() == reflect.Struct
}

var stateType = reflect.TypeOf(types.WorkflowState(""))

// column is one exported response field.
type column struct {
	index     int
	name      string
	omitEmpty bool
	state     bool
}

func columnsOf(t reflect.Type) []column {
	var cols []column
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		cols = append(cols, column{
			index:     i,
			name:      name,
			omitEmpty: strings.Contains(opts, "omitempty"),
			state:     f.Type == stateType,
		})
	}
	return cols
}

// writeRecord skips omitempty fields that are unset, so a healthy instance
// shows no failed_step or error lines.
func (r *Renderer) writeRecord(v reflect.Value) error {
	cols := columnsOf(v.Type())
	width := 0
	for _, c := range cols {
		width = max(width, len(c.name)+1)
	}
	for _, c := range cols {
		f := v.Field(c.index)
		if c.omitEmpty && f.IsZero() {
			continue
		}
		label := c.name + ":"
		if _, err := fmt.Fprintf(r.out, "%s%s  %s\n", label, strings.Repeat(" ", width-len(label)), r.paint(c, cell(f))); err != nil {
			return err
		}
	}
	return nil
}

// writeRows prints unset omitempty cells as "-" to keep columns aligned.
func (r *Renderer) writeRows(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	elem := v.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	cols := columnsOf(elem)

	header := make([]string, len(cols))
	widths := make([]int, len(cols))
	for i, c := range cols {
		header[i] = strings.ToUpper(c.name)
		widths[i] = len(header[i])
	}
	rows := make([][]string, v.Len())
	for i := range rows {
		rv := reflect.Indirect(v.Index(i))
		row := make([]string, len(cols))
		for j, c := range cols {
			if !rv.IsValid() || (c.omitEmpty && rv.Field(c.index).IsZero()) {
				row[j] = "-"
			} else {
				row[j] = cell(rv.Field(c.index))
			}
			widths[j] = max(widths[j], lipgloss.Width(row[j]))
		}
		rows[i] = row
	}

	if err := r.writeLine(cols, widths, header, false); err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.writeLine(cols, widths, row, true); err != nil {
			return err
		}
	}
	return nil
}

// writeLine pads on the plain text so styled cells stay aligned.
func (r *Renderer) writeLine(cols []column, widths []int, cells []string, styled bool) error {
	var b strings.Builder
	for i, text := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		out := text
		if styled {
			out = r.paint(cols[i], text)
		}
		b.WriteString(out)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(text)))
		}
	}
	b.WriteByte('\n')
	_, err := io.WriteString(r.out, b.String())
	return err
}

func (r *Renderer) paint(c column, text string) string {
	if r.noColor || !c.state {
		return text
	}
	return tui.StateStyle(types.WorkflowState(text)).Render(text)
}

func cell(v reflect.Value) string {
	return fmt.Sprint(v.Interface())
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
