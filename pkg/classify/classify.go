// Package classify separates a machine-readable chart payload from the
// human-readable text of captured stdout.
//
// The payload is delimited by StartSentinel and, optionally, EndSentinel.
// Without an end sentinel the payload runs to the end of the stream.
// Classification never fails: a payload that cannot be parsed leaves the
// whole stream as plain text.
package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/debug"
)

const (
	StartSentinel = "PLOT_DATA_JSON_START:"
	EndSentinel   = ":PLOT_DATA_JSON_END"

	// DefaultTitle is used when no title can be derived from the hint.
	DefaultTitle = "Generated Chart"
)

// chartSchema accepts an object of arrays: one column per key.
const chartSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {
    "type": "array",
    "minItems": 1,
    "items": {"type": ["number", "string"]}
  }
}`

var (
	payloadSchema = mustCompileSchema(chartSchema, "chart.schema.json")
	titlePattern  = regexp.MustCompile(`(?i)(?:plot|chart|visualize)\s+(.*?)(?:\.|,|\n|$)`)
)

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(raw), &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// Result is the classified form of a stdout stream.
type Result struct {
	// Text is stdout with the delimited payload removed, or the whole
	// stdout when there is no usable payload.
	Text string

	// Chart is the parsed payload, nil when absent or invalid.
	Chart *api.ChartData

	// Warning explains why a detected payload was ignored.
	Warning string
}

type options struct {
	titleHint string
}

// Option configures a single classification.
type Option func(*options)

// WithTitleHint derives the chart title from text describing the code,
// typically the proposal rationale.
func WithTitleHint(hint string) Option {
	return func(o *options) {
		o.titleHint = hint
	}
}

// Classify splits stdout into plain text and an optional chart.
func Classify(stdout string, opts ...Option) Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	start := strings.Index(stdout, StartSentinel)
	if start < 0 {
		return Result{Text: stdout}
	}

	prefix := stdout[:start]
	rest := stdout[start+len(StartSentinel):]
	payload, suffix := rest, ""
	if end := strings.Index(rest, EndSentinel); end >= 0 {
		payload = rest[:end]
		suffix = rest[end+len(EndSentinel):]
	}

	chart, err := parseChart(strings.TrimSpace(payload))
	if err != nil {
		debug.Log("harness", "chart payload ignored", "error", err)
		return Result{Text: stdout, Warning: fmt.Sprintf("failed to parse chart data: %v", err)}
	}
	chart.Title = Title(o.titleHint)

	return Result{Text: prefix + suffix, Chart: chart}
}

// Title derives a chart title from hint: the phrase following "plot",
// "chart" or "visualize", capitalised. It falls back to DefaultTitle.
func Title(hint string) string {
	m := titlePattern.FindStringSubmatch(hint)
	if m == nil {
		return DefaultTitle
	}
	phrase := strings.TrimSpace(m[1])
	if phrase == "" {
		return DefaultTitle
	}
	r, size := utf8.DecodeRuneInString(phrase)
	return string(unicode.ToUpper(r)) + strings.ToLower(phrase[size:])
}

func parseChart(payload string) (*api.ChartData, error) {
	data := []byte(payload)

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if err := payloadSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("payload must be an object of non-empty arrays: %w", err)
	}

	keys, err := objectKeys(data)
	if err != nil {
		return nil, err
	}
	columns := doc.(map[string]any)

	length := -1
	for _, k := range keys {
		n := len(columns[k].([]any))
		if length >= 0 && n != length {
			return nil, fmt.Errorf("column %q has %d values, expected %d", k, n, length)
		}
		length = n
	}

	chart := &api.ChartData{}
	seriesKeys := keys
	if len(keys) >= 2 {
		chart.Axis = &api.ChartAxis{Name: keys[0], Values: columns[keys[0]].([]any)}
		chart.XLabel = keys[0]
		chart.YLabel = keys[1]
		seriesKeys = keys[1:]
	}
	for _, k := range seriesKeys {
		raw := columns[k].([]any)
		values := make([]float64, len(raw))
		for i, v := range raw {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("series %q contains non-numeric value %v", k, v)
			}
			values[i] = f
		}
		chart.Series = append(chart.Series, api.ChartSeries{Name: k, Values: values})
	}
	return chart, nil
}

// objectKeys returns the top-level keys of a JSON object in document order.
// Duplicate keys keep their first position.
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}
