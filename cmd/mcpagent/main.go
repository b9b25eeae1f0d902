// Command mcpagent serves the model-with-tools agent over HTTP,
// or answers a single query with -query.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/config"
	"github.com/effective-security/mcpagent/conversation"
	"github.com/effective-security/mcpagent/httpapi"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/session"
	"github.com/effective-security/mcpagent/transcript"
	"github.com/effective-security/mcpagent/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "mcpagent")

// ShutdownTimeout bounds the graceful shutdown of the HTTP server
const ShutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		stop()
		os.Exit(1)
	}
}

type flags struct {
	configFile string
	query      string
	schema     bool
	verbose    bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := new(flags)
	fs := flag.NewFlagSet("mcpagent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configFile, "config", "mcpagent.yaml", "path to the configuration file")
	fs.StringVar(&f.query, "query", "", "answer a single query, print the messages and exit")
	fs.BoolVar(&f.schema, "schema", false, "print the JSON schema of the configuration and exit")
	fs.BoolVar(&f.verbose, "verbose", false, "print the query events to stderr")
	if err := fs.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if f.schema {
		return printJSON(stdout, config.JSONSchema())
	}

	cfg, err := config.Load(f.configFile)
	if err != nil {
		return err
	}
	setupLogging(stderr, cfg.Log.Level)

	llm, err := llmfactory.NewLLM(&cfg.LLM)
	if err != nil {
		return errors.Wrap(err, "failed to create model")
	}

	sess := session.New(session.WithTransportOptions(
		transport.WithPython(cfg.Server.Python),
		transport.WithNode(cfg.Server.Node),
		transport.WithEnv(cfg.Server.Env...),
		transport.WithArgs(cfg.Server.Args...),
	))
	defer sess.Shutdown()

	fanout := callbacks.NewFanout(callbacks.NewPackageLogger(logger))
	if cfg.Transcript.Dir != "" {
		format, err := transcript.ParseFormat(cfg.Transcript.Format)
		if err != nil {
			return err
		}
		store, err := transcript.NewFileStore(cfg.Transcript.Dir, format)
		if err != nil {
			return err
		}
		fanout.Add(transcript.NewWriter(store))
	}

	var scratchpad *callbacks.Scratchpad
	if f.verbose {
		if f.query != "" {
			scratchpad = callbacks.NewScratchpad(callbacks.ModeVerbose)
			fanout.Add(scratchpad)
		} else {
			fanout.Add(callbacks.NewPrinter(stderr, callbacks.ModeDefault))
		}
	}

	timeout, err := cfg.Query.TimeoutDuration()
	if err != nil {
		return err
	}
	engine := conversation.New(llm, sess,
		conversation.WithTimeout(timeout),
		conversation.WithMaxTurns(cfg.Query.MaxTurns),
		conversation.WithCallback(fanout),
	)

	if err = sess.Connect(ctx, cfg.Server.ScriptPath); err != nil {
		if f.query != "" || cfg.Startup.OnConnectFailure != config.OnConnectFailureDegraded {
			return errors.Wrap(err, "failed to connect to tool server")
		}
		logger.KV(xlog.WARNING,
			"status", "degraded",
			"script", cfg.Server.ScriptPath,
			"reason", "queries fail until POST /connect succeeds")
	}

	if f.query != "" {
		return runQuery(ctx, engine, scratchpad, f.query, stdout, stderr)
	}

	handler := httpapi.New(engine, sess, cfg.Server.ScriptPath, httpapi.WithCORS(httpapi.CORS{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   cfg.HTTP.AllowedMethods,
		AllowedHeaders:   cfg.HTTP.AllowedHeaders,
		AllowCredentials: cfg.HTTP.Credentials(),
	}))
	return serve(ctx, cfg.HTTP.Listen, handler)
}

func runQuery(ctx context.Context, engine *conversation.Engine, scratchpad *callbacks.Scratchpad, query string, stdout, stderr io.Writer) error {
	messages, qerr := engine.SubmitQuery(ctx, query)

	if scratchpad != nil {
		for _, id := range scratchpad.QueryIDs() {
			_, trace := scratchpad.EndRun(id)
			_, _ = stderr.Write(trace)
		}
	}

	if err := printJSON(stdout, httpapi.QueryResponse{Messages: messages}); err != nil {
		return err
	}
	return qerr
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.KV(xlog.INFO, "status", "listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "failed to serve on %s", addr)
	case <-ctx.Done():
	}

	logger.KV(xlog.INFO, "status", "shutting_down", "addr", addr)
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "failed to shut down the server")
	}
	return nil
}

func setupLogging(w io.Writer, level string) {
	xlog.SetFormatter(xlog.NewStringFormatter(w))
	switch strings.ToUpper(level) {
	case "CRITICAL":
		xlog.SetGlobalLogLevel(xlog.CRITICAL)
	case "ERROR":
		xlog.SetGlobalLogLevel(xlog.ERROR)
	case "WARNING":
		xlog.SetGlobalLogLevel(xlog.WARNING)
	case "NOTICE":
		xlog.SetGlobalLogLevel(xlog.NOTICE)
	case "DEBUG":
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	case "TRACE":
		xlog.SetGlobalLogLevel(xlog.TRACE)
	default:
		xlog.SetGlobalLogLevel(xlog.INFO)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	return nil
}
