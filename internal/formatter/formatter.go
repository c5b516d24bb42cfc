package formatter

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"lecker/internal/pipeline"
)

// Formats lists the supported output formats.
var Formats = []string{"markdown", "json"}

// Format renders a pipeline result in the given format.
func Format(result *pipeline.Result, format string) (string, error) {
	switch format {
	case "markdown", "md":
		return result.Markdown, nil
	case "json":
		b, err := ToJSON(result)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ToJSON returns the result and its metadata as indented JSON.
func ToJSON(result *pipeline.Result) ([]byte, error) {
	type jsonOutput struct {
		Markdown string `json:"markdown"`
		Title    string `json:"title"`
		URL      string `json:"url"`
		FinalURL string `json:"final_url"`
		Partial  bool   `json:"partial"`
		Attempts int    `json:"attempts"`
		Engine   string `json:"engine"`
		LoadTime int64  `json:"load_time"`
	}

	output := jsonOutput{
		Markdown: result.Markdown,
		Title:    result.Title,
		URL:      result.URL,
		FinalURL: result.FinalURL,
		Partial:  result.Partial,
		Attempts: result.Attempts,
		Engine:   result.Engine,
		LoadTime: result.LoadTime.Milliseconds(),
	}
	return json.MarshalIndent(output, "", "  ")
}

// InferFormat infers the output format from a file extension, "" when unknown.
func InferFormat(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "markdown"
	case ".json":
		return "json"
	default:
		return ""
	}
}
