package formatter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lecker/internal/pipeline"
)

func testResult() *pipeline.Result {
	return &pipeline.Result{
		Markdown: "# Title\n",
		URL:      "https://example.com",
		FinalURL: "https://example.com/home",
		Title:    "Title",
		Partial:  true,
		Attempts: 2,
		Engine:   "native",
		LoadTime: 1500 * time.Millisecond,
	}
}

func TestFormatMarkdown(t *testing.T) {
	out, err := Format(testResult(), "markdown")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", out)
}

func TestFormatJSON(t *testing.T) {
	out, err := Format(testResult(), "json")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "# Title\n", got["markdown"])
	assert.Equal(t, "https://example.com/home", got["final_url"])
	assert.Equal(t, true, got["partial"])
	assert.EqualValues(t, 2, got["attempts"])
	assert.EqualValues(t, 1500, got["load_time"])
}

func TestFormatUnsupported(t *testing.T) {
	_, err := Format(testResult(), "csv")
	assert.EqualError(t, err, "unsupported output format: csv")
}

func TestInferFormat(t *testing.T) {
	assert.Equal(t, "markdown", InferFormat("out.MD"))
	assert.Equal(t, "markdown", InferFormat("notes.markdown"))
	assert.Equal(t, "json", InferFormat("/tmp/page.json"))
	assert.Equal(t, "", InferFormat("page.html"))
	assert.Equal(t, "", InferFormat("noext"))
}
