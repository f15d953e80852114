package ux

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testData struct {
	Name  string `json:"name" yaml:"name"`
	Value int    `json:"value" yaml:"value"`
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{"json format", "json", false},
		{"yaml format", "yaml", false},
		{"text format", "text", false},
		{"empty format defaults to text", "", false},
		{"unknown format", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFormatter(tt.format, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	formatter, err := NewFormatter("json", &FormatterOptions{Writer: &buf})
	if err != nil {
		t.Fatalf("NewFormatter() error = %v", err)
	}

	data := testData{Name: "test", Value: 42}
	if err := formatter.Format(data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, `"name": "test"`) {
		t.Errorf("JSON output missing expected field: %s", output)
	}
	if !strings.Contains(output, `"value": 42`) {
		t.Errorf("JSON output missing expected field: %s", output)
	}
}

func TestJSONFormatterCompact(t *testing.T) {
	var buf bytes.Buffer
	formatter, err := NewFormatter("json", &FormatterOptions{
		Writer:  &buf,
		Compact: true,
	})
	if err != nil {
		t.Fatalf("NewFormatter() error = %v", err)
	}

	data := testData{Name: "test", Value: 42}
	if err := formatter.Format(data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	output := buf.String()
	// Compact JSON should be single line (no indentation)
	if strings.Count(output, "\n") > 1 {
		t.Errorf("Compact JSON should be single line, got: %s", output)
	}
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	formatter, err := NewFormatter("yaml", &FormatterOptions{Writer: &buf})
	if err != nil {
		t.Fatalf("NewFormatter() error = %v", err)
	}

	data := testData{Name: "test", Value: 42}
	if err := formatter.Format(data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "name: test") {
		t.Errorf("YAML output missing expected field: %s", output)
	}
	if !strings.Contains(output, "value: 42") {
		t.Errorf("YAML output missing expected field: %s", output)
	}
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		data    interface{}
		want    string
		wantErr bool
	}{
		{
			name: "string data",
			data: "hello world",
			want: "hello world",
		},
		{
			name:    "complex type without String method",
			data:    testData{Name: "test", Value: 42},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			formatter, err := NewFormatter("text", &FormatterOptions{Writer: &buf})
			if err != nil {
				t.Fatalf("NewFormatter() error = %v", err)
			}

			err = formatter.Format(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Format() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				output := strings.TrimSpace(buf.String())
				if output != tt.want {
					t.Errorf("Format() output = %q, want %q", output, tt.want)
				}
			}
		})
	}
}

func TestTextFormatterFields(t *testing.T) {
	var buf bytes.Buffer
	formatter, err := NewFormatter("text", &FormatterOptions{Writer: &buf, NoColor: true})
	require.NoError(t, err)

	err = formatter.Format(Fields{
		{Label: "State", Value: "Authenticated"},
		{Label: "Role", Value: "SuperAdmin"},
	})
	require.NoError(t, err)

	assert.Equal(t, "State: Authenticated\nRole:  SuperAdmin\n", buf.String())
}

func TestReportPicksRepresentation(t *testing.T) {
	report := Report{
		Data: testData{Name: "metrics", Value: 7},
		Text: Fields{{Label: "Name", Value: "metrics"}},
	}

	var text, js bytes.Buffer
	tf, _ := NewFormatter("text", &FormatterOptions{Writer: &text, NoColor: true})
	jf, _ := NewFormatter("json", &FormatterOptions{Writer: &js, Compact: true})

	require.NoError(t, tf.Format(report))
	require.NoError(t, jf.Format(report))

	assert.Equal(t, "Name: metrics\n", text.String())
	assert.JSONEq(t, `{"name":"metrics","value":7}`, js.String())
}

func TestReportMessageComesFirst(t *testing.T) {
	var text bytes.Buffer
	tf, _ := NewFormatter("text", &FormatterOptions{Writer: &text, NoColor: true})

	require.NoError(t, tf.Format(Report{Message: "Logged out."}))
	require.NoError(t, tf.Format(Report{
		Message: "Logged in.",
		Text:    Fields{{Label: "Role", Value: "User"}},
	}))

	assert.Equal(t, "Logged out.\nLogged in.\nRole: User\n", text.String())
}

func TestRawJSONBodies(t *testing.T) {
	raw := json.RawMessage(`{"zeta":1,"alpha":[1,2]}`)

	var js bytes.Buffer
	jf, _ := NewFormatter("json", &FormatterOptions{Writer: &js})
	require.NoError(t, jf.Format(raw))
	assert.Contains(t, js.String(), "\n  \"zeta\": 1")

	var ym bytes.Buffer
	yf, _ := NewFormatter("yaml", &FormatterOptions{Writer: &ym})
	require.NoError(t, yf.Format(raw))
	out := ym.String()
	assert.Less(t, strings.Index(out, "zeta"), strings.Index(out, "alpha"), "key order is kept")
	assert.Contains(t, out, "zeta: 1\n")
	assert.Contains(t, out, "- 2")
	assert.NotContains(t, out, "{")

	var text bytes.Buffer
	tf, _ := NewFormatter("text", &FormatterOptions{Writer: &text})
	require.NoError(t, tf.Format(json.RawMessage("<html>oops</html>")))
	assert.Equal(t, "<html>oops</html>\n", text.String())
}
