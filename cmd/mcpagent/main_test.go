package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mocks/mockllms"
	"github.com/effective-security/mcpagent/mocks/mocktransport"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	transcripts := filepath.Join(dir, "transcripts")
	file := filepath.Join(dir, "mcpagent.yaml")
	cfg := fmt.Sprintf(`server:
  script_path: ./server.py
http:
  listen: 127.0.0.1:0
transcript:
  dir: %s
log:
  level: ERROR
%s`, transcripts, extra)
	require.NoError(t, os.WriteFile(file, []byte(cfg), 0o600))
	return file, transcripts
}

func useModel(t *testing.T, model llms.Model) {
	llmfactory.NewLLM = func(*llmfactory.ProviderConfig) (llms.Model, error) {
		return model, nil
	}
	t.Cleanup(func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	})
}

func useChannel(t *testing.T, ch transport.Channel, err error) {
	transport.NewChannel = func(string, []string, ...string) (transport.Channel, error) {
		return ch, err
	}
	t.Cleanup(func() {
		transport.NewChannel = transport.NewStdioChannel
	})
}

func TestSchema(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-schema"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), `"script_path"`)
}

func TestBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, run(context.Background(), []string{"-unknown"}, &stdout, &stderr))
}

func TestMissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "none.yaml")}, &stdout, &stderr)
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := mocktransport.NewMockChannel(ctrl)
	ch.EXPECT().Initialize(gomock.Any(), gomock.Any()).Return(&mcp.InitializeResult{
		ServerInfo: mcp.Implementation{Name: "calc", Version: "1.0"},
	}, nil)
	ch.EXPECT().ListTools(gomock.Any(), gomock.Any()).Return(&mcp.ListToolsResult{
		Tools: []mcp.Tool{{Name: "adder", RawInputSchema: json.RawMessage(`{"type":"object"}`)}},
	}, nil)
	ch.EXPECT().Close().Return(nil)
	useChannel(t, ch, nil)

	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("claude").AnyTimes()
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(
		&llms.ContentResponse{Content: []llms.ContentPart{llms.TextPart("4")}}, nil)
	useModel(t, model)

	file, transcripts := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", file, "-query", "What is 2+2?", "-verbose"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[
		{"role":"user","content":"What is 2+2?"},
		{"role":"assistant","content":"4"}
	]}`, stdout.String())
	assert.Contains(t, stderr.String(), "*** Run Started ***")

	files, err := filepath.Glob(filepath.Join(transcripts, "conversation-*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestQueryRefusesWithoutServer(t *testing.T) {
	useChannel(t, nil, errors.New("python not found"))
	ctrl := gomock.NewController(t)
	useModel(t, mockllms.NewMockModel(ctrl))

	file, _ := writeConfig(t, "startup:\n  on_connect_failure: degraded\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", file, "-query", "hi"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to tool server")
}

func TestServeRefuse(t *testing.T) {
	useChannel(t, nil, errors.New("python not found"))
	ctrl := gomock.NewController(t)
	useModel(t, mockllms.NewMockModel(ctrl))

	file, _ := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", file}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to tool server")
}

func TestServeDegraded(t *testing.T) {
	useChannel(t, nil, errors.New("python not found"))
	ctrl := gomock.NewController(t)
	useModel(t, mockllms.NewMockModel(ctrl))

	file, _ := writeConfig(t, "startup:\n  on_connect_failure: degraded\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	assert.NoError(t, run(ctx, []string{"-config", file}, &stdout, &stderr))
}
