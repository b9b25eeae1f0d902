package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mocks/mocktransport"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/session"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/mcpagent/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// useChannels makes the transport return the given channels, in order
func useChannels(t *testing.T, channels ...transport.Channel) *int {
	t.Helper()
	spawned := 0
	transport.NewChannel = func(command string, env []string, args ...string) (transport.Channel, error) {
		if spawned >= len(channels) {
			return nil, errors.New("no more channels")
		}
		ch := channels[spawned]
		spawned++
		return ch, nil
	}
	t.Cleanup(func() {
		transport.NewChannel = transport.NewStdioChannel
	})
	return &spawned
}

func expectConnect(ch *mocktransport.MockChannel, list ...mcp.Tool) {
	ch.EXPECT().Initialize(gomock.Any(), gomock.Any()).Return(&mcp.InitializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ServerInfo:      mcp.Implementation{Name: "calc", Version: "1.0"},
	}, nil)
	ch.EXPECT().ListTools(gomock.Any(), gomock.Any()).Return(&mcp.ListToolsResult{Tools: list}, nil)
}

func TestShutdownNeverConnected(t *testing.T) {
	s := session.New()
	assert.False(t, s.Connected())
	assert.NotPanics(t, s.Shutdown)
	assert.NotPanics(t, s.Shutdown)
	assert.Nil(t, s.ServerInfo())
	assert.Empty(t, s.Tools())
}

func TestConnectAndShutdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := mocktransport.NewMockChannel(ctrl)
	useChannels(t, ch)

	expectConnect(ch, mcp.Tool{Name: "adder", Description: "Adds"}, mcp.Tool{Name: "echo"})

	s := session.New(
		session.WithClientInfo(mcp.Implementation{Name: "test", Version: "0.1"}),
		session.WithTransportOptions(transport.WithPython("python3")),
	)
	require.NoError(t, s.Connect(context.Background(), "server.py"))
	assert.True(t, s.Connected())
	assert.Equal(t, "server.py", s.Path())
	assert.Equal(t, "calc", s.ServerInfo().ServerInfo.Name)
	assert.Equal(t, []string{"adder", "echo"}, tools.Names(s.Tools()))
	mt := s.ModelTools()
	require.Len(t, mt, 2)
	assert.Equal(t, "adder", mt[0].Name)

	ch.EXPECT().Close().Return(nil)
	s.Shutdown()
	assert.False(t, s.Connected())
	assert.Empty(t, s.Tools())
	assert.Empty(t, s.ModelTools())
	s.Shutdown()
}

func TestShutdownCloseFailureIsLogged(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := mocktransport.NewMockChannel(ctrl)
	useChannels(t, ch)
	expectConnect(ch)

	s := session.New()
	require.NoError(t, s.Connect(context.Background(), "server.js"))

	ch.EXPECT().Close().Return(errors.New("process already exited"))
	assert.NotPanics(t, s.Shutdown)
	assert.False(t, s.Connected())
}

func TestReconnectClosesPrevious(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := mocktransport.NewMockChannel(ctrl)
	second := mocktransport.NewMockChannel(ctrl)
	spawned := useChannels(t, first, second)

	expectConnect(first, mcp.Tool{Name: "adder"})
	s := session.New()
	require.NoError(t, s.Connect(context.Background(), "server.py"))

	// the previous transport must be closed before the new one is opened
	first.EXPECT().Close().Do(func() {
		assert.Equal(t, 1, *spawned)
	}).Return(nil)
	expectConnect(second, mcp.Tool{Name: "echo"})
	require.NoError(t, s.Connect(context.Background(), "other.py"))
	assert.Equal(t, 2, *spawned)
	assert.Equal(t, []string{"echo"}, tools.Names(s.Tools()))
	assert.Equal(t, "other.py", s.Path())

	second.EXPECT().Close().Return(nil)
	s.Shutdown()
}

func TestConnectWhileQueryInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := mocktransport.NewMockChannel(ctrl)
	spawned := useChannels(t, first)

	expectConnect(first, mcp.Tool{Name: "adder"})
	s := session.New()
	require.NoError(t, s.Connect(context.Background(), "server.py"))

	release, err := s.Acquire()
	require.NoError(t, err)

	// first.Close is not expected: the in-flight transport must stay open
	err = s.Connect(context.Background(), "other.py")
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrBusy))
	assert.Equal(t, 1, *spawned)
	assert.True(t, s.Connected())
	assert.Equal(t, "server.py", s.Path())
	assert.Equal(t, []string{"adder"}, tools.Names(s.Tools()))

	// the lease taken by the query is untouched by the refused connect
	_, err = s.Acquire()
	assert.True(t, errors.Is(err, session.ErrBusy))
	release()

	// Connect gives the lease back when it returns
	first.EXPECT().Close().Return(nil)
	err = s.Connect(context.Background(), "other.py")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrTransport))

	release, err = s.Acquire()
	require.NoError(t, err)
	release()
}

func TestReconnectUnsupportedKeepsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := mocktransport.NewMockChannel(ctrl)
	spawned := useChannels(t, ch)

	expectConnect(ch, mcp.Tool{Name: "adder"})
	s := session.New()
	require.NoError(t, s.Connect(context.Background(), "server.py"))

	err := s.Connect(context.Background(), "server.rb")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrUnsupportedScriptType))
	assert.Equal(t, 1, *spawned)
	assert.True(t, s.Connected())
	assert.Equal(t, "server.py", s.Path())

	ch.EXPECT().Close().Return(nil)
	s.Shutdown()
}

func TestConnectFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported script", func(t *testing.T) {
		spawned := useChannels(t)
		s := session.New()
		err := s.Connect(ctx, "server.rb")
		require.Error(t, err)
		assert.True(t, errors.Is(err, transport.ErrUnsupportedScriptType))
		assert.Equal(t, 0, *spawned)
		assert.False(t, s.Connected())
	})

	t.Run("spawn", func(t *testing.T) {
		useChannels(t)
		s := session.New()
		err := s.Connect(ctx, "server.py")
		require.Error(t, err)
		assert.True(t, errors.Is(err, transport.ErrTransport))
	})

	t.Run("handshake", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		ch := mocktransport.NewMockChannel(ctrl)
		useChannels(t, ch)

		ch.EXPECT().Initialize(gomock.Any(), gomock.Any()).Return(nil, errors.New("EOF"))
		ch.EXPECT().Close().Return(nil)

		s := session.New()
		err := s.Connect(ctx, "server.py")
		require.Error(t, err)
		assert.True(t, errors.Is(err, tools.ErrHandshake))
		assert.False(t, s.Connected())
	})

	t.Run("list", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		ch := mocktransport.NewMockChannel(ctrl)
		useChannels(t, ch)

		ch.EXPECT().Initialize(gomock.Any(), gomock.Any()).Return(&mcp.InitializeResult{}, nil)
		ch.EXPECT().ListTools(gomock.Any(), gomock.Any()).Return(&mcp.ListToolsResult{
			Tools: []mcp.Tool{{Name: "a"}, {Name: "a"}},
		}, nil)
		ch.EXPECT().Close().Return(nil)

		s := session.New()
		err := s.Connect(ctx, "server.py")
		require.Error(t, err)
		assert.True(t, errors.Is(err, tools.ErrProtocol))
		assert.False(t, s.Connected())
	})
}

func TestCallTool(t *testing.T) {
	ctx := context.Background()
	call := llms.ToolCall{ID: "t1", Name: "adder", Arguments: json.RawMessage(`{"a":2,"b":2}`)}

	s := session.New()
	_, err := s.CallTool(ctx, call)
	assert.True(t, errors.Is(err, session.ErrNotConnected))

	ctrl := gomock.NewController(t)
	ch := mocktransport.NewMockChannel(ctrl)
	useChannels(t, ch)
	expectConnect(ch, mcp.Tool{Name: "adder"})
	require.NoError(t, s.Connect(ctx, "server.py"))

	ch.EXPECT().CallTool(ctx, gomock.Any()).Return(&mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent("4")},
	}, nil)
	res, err := s.CallTool(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, "4", res.Content)
	assert.Equal(t, "t1", res.ToolCallID)

	ch.EXPECT().CallTool(ctx, gomock.Any()).Return(&mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent("overflow")},
		IsError: true,
	}, nil)
	res, err = s.CallTool(ctx, call)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	ch.EXPECT().CallTool(ctx, gomock.Any()).Return(nil, errors.New("broken pipe"))
	_, err = s.CallTool(ctx, call)
	require.Error(t, err)

	ch.EXPECT().Close().Return(nil)
	s.Shutdown()
}

func TestAcquire(t *testing.T) {
	s := session.New()

	release, err := s.Acquire()
	require.NoError(t, err)

	_, err = s.Acquire()
	assert.True(t, errors.Is(err, session.ErrBusy))

	release()
	release()

	release2, err := s.Acquire()
	require.NoError(t, err)
	defer release2()
	// the stale release func must not free the new lease
	release()
	_, err = s.Acquire()
	assert.True(t, errors.Is(err, session.ErrBusy))
}

func TestAcquireConcurrent(t *testing.T) {
	s := session.New()

	var (
		wg       sync.WaitGroup
		lock     sync.Mutex
		acquired int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Acquire(); err == nil {
				lock.Lock()
				acquired++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}
