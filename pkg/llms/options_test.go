package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallOptions(t *testing.T) {
	t.Parallel()

	opts := CallOptions{}
	for _, o := range []CallOption{
		WithModel("claude-3-5-sonnet-latest"),
		WithMaxTokens(1000),
		WithTemperature(0.2),
		WithStopWords([]string{"STOP"}),
		WithSystemPrompt("be brief"),
		WithTools([]Tool{{Name: "echo"}}),
	} {
		o(&opts)
	}
	assert.Equal(t, "claude-3-5-sonnet-latest", opts.Model)
	assert.Equal(t, 1000, opts.MaxTokens)
	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, []string{"STOP"}, opts.StopWords)
	assert.Equal(t, "be brief", opts.SystemPrompt)
	assert.Len(t, opts.Tools, 1)
}
