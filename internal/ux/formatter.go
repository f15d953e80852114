package ux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Formatter defines the interface for output formatters.
// Every command writes its result through one.
type Formatter interface {
	// Format writes the given data to the output writer
	Format(data interface{}) error
}

// FormatterOptions contains configuration for formatters
type FormatterOptions struct {
	// Writer is where output is written (defaults to os.Stdout)
	Writer io.Writer
	// NoColor disables colored output for text formatters
	NoColor bool
	// Compact enables compact output (no indentation for JSON/YAML)
	Compact bool
}

// Formats lists the accepted --format values
var Formats = []string{"text", "json", "yaml"}

// NewFormatter creates a formatter based on the format string
func NewFormatter(format string, opts *FormatterOptions) (Formatter, error) {
	if opts == nil {
		opts = &FormatterOptions{Writer: os.Stdout}
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	switch format {
	case "json":
		return &JSONFormatter{opts: opts}, nil
	case "yaml":
		return &YAMLFormatter{opts: opts}, nil
	case "text", "":
		return &TextFormatter{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

// Field is one labelled line of text output
type Field struct {
	Label string
	Value string
}

// Fields render as an aligned label/value list in text mode
type Fields []Field

// Report pairs structured data for JSON and YAML with its text rendering:
// an optional message line followed by fields
type Report struct {
	Data    interface{}
	Message string
	Text    Fields
}

func structured(data interface{}) interface{} {
	if r, ok := data.(Report); ok {
		return r.Data
	}
	return data
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	opts *FormatterOptions
}

// Format writes data as JSON
func (f *JSONFormatter) Format(data interface{}) error {
	data = structured(data)
	if raw, ok := data.(json.RawMessage); ok {
		return f.formatRaw(raw)
	}

	encoder := json.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// formatRaw re-indents a backend body without decoding it into Go values
func (f *JSONFormatter) formatRaw(raw json.RawMessage) error {
	var buf bytes.Buffer
	if f.opts.Compact {
		if err := compact(&buf, raw); err != nil {
			return err
		}
	} else if err := indent(&buf, raw); err != nil {
		return err
	}
	_, err := fmt.Fprintln(f.opts.Writer, buf.String())
	return err
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct {
	opts *FormatterOptions
}

// Format writes data as YAML
func (f *YAMLFormatter) Format(data interface{}) error {
	data = structured(data)
	if raw, ok := data.(json.RawMessage); ok {
		// JSON documents are valid YAML; decoding keeps key order
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return fmt.Errorf("response is not valid JSON: %w", err)
		}
		blockStyle(&node)
		data = &node
	}

	encoder := yaml.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		encoder.SetIndent(2)
	}
	defer encoder.Close()
	return encoder.Encode(data)
}

// TextFormatter formats output as human-readable text
type TextFormatter struct {
	opts *FormatterOptions
}

// Format writes data as formatted text. It accepts strings, fmt.Stringers,
// Fields, Reports and raw JSON bodies.
func (f *TextFormatter) Format(data interface{}) error {
	switch v := data.(type) {
	case Report:
		if v.Message != "" {
			if _, err := fmt.Fprintln(f.opts.Writer, v.Message); err != nil {
				return err
			}
		}
		return f.formatFields(v.Text)
	case Fields:
		return f.formatFields(v)
	case json.RawMessage:
		var buf bytes.Buffer
		if err := indent(&buf, v); err != nil {
			// not JSON; print it as the server sent it
			_, werr := fmt.Fprintln(f.opts.Writer, string(v))
			return werr
		}
		_, err := fmt.Fprintln(f.opts.Writer, buf.String())
		return err
	case string:
		_, err := fmt.Fprintln(f.opts.Writer, v)
		return err
	case fmt.Stringer:
		_, err := fmt.Fprintln(f.opts.Writer, v.String())
		return err
	default:
		return fmt.Errorf("text formatter requires a string, fmt.Stringer or ux.Fields, got %T", data)
	}
}

func (f *TextFormatter) formatFields(fields Fields) error {
	width := 0
	for _, field := range fields {
		width = max(width, len(field.Label))
	}

	label := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	if f.opts.NoColor {
		label = lipgloss.NewStyle()
	}

	for _, field := range fields {
		padded := fmt.Sprintf("%-*s", width+2, field.Label+":")
		if _, err := fmt.Fprintln(f.opts.Writer, label.Render(padded)+field.Value); err != nil {
			return err
		}
	}
	return nil
}

// blockStyle drops the flow style and quoting the JSON source implies
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func indent(w *bytes.Buffer, raw []byte) error {
	return json.Indent(w, raw, "", "  ")
}

func compact(w *bytes.Buffer, raw []byte) error {
	return json.Compact(w, raw)
}

// Compile-time verification that formatters implement Formatter
var _ Formatter = (*JSONFormatter)(nil)
var _ Formatter = (*YAMLFormatter)(nil)
var _ Formatter = (*TextFormatter)(nil)
