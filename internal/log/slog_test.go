package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// helpers

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	if opts.App == "" {
		opts.App = "test"
	}
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON line in buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

type kindErr struct{ kind string }

func (e *kindErr) Error() string     { return "kind " + e.kind }
func (e *kindErr) ErrorKind() string { return e.kind }

type stackErr struct{ pcs []uintptr }

func (e *stackErr) Error() string       { return "stacked" }
func (e *stackErr) StackPCs() []uintptr { return e.pcs }

// construction

func TestNewSlog_Defaults(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})
	if l.maxErrorLinks != 8 {
		t.Errorf("maxErrorLinks = %d, want 8", l.maxErrorLinks)
	}
	l.Info(context.Background(), "hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestNewSlog_BuildAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "plugins", Version: "1.2.3", Commit: "abc", JSON: true})
	l.Info(context.Background(), "hello")

	m := lastRecord(t, &buf)
	if m["app"] != "plugins" || m["version"] != "1.2.3" || m["commit"] != "abc" {
		t.Errorf("record = %v", m)
	}
	if _, ok := m["source"]; !ok {
		t.Error("source missing")
	}
}

func TestNewSlog_EmptyBuildAttrsOmitted(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})
	l.Info(context.Background(), "hello")

	m := lastRecord(t, &buf)
	if _, ok := m["version"]; ok {
		t.Error("empty version should be omitted")
	}
}

// levels and attrs

func TestSlogLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true, Level: slog.LevelWarn})
	ctx := context.Background()

	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf.String())
	}
	l.Warn(ctx, "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Fatal("warn not written")
	}
}

func TestSlogLogger_SourceIsCaller(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})
	l.Info(context.Background(), "where")

	src, _ := lastRecord(t, &buf)["source"].(map[string]any)
	if f, _ := src["file"].(string); !strings.HasSuffix(f, "slog_test.go") {
		t.Errorf("source = %v, want this test file", src)
	}
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{JSON: true})
	child := base.With("plugin", "synth-control", 42, "dropped", "odd")

	child.Info(context.Background(), "child")
	m := lastRecord(t, &buf)
	if m["plugin"] != "synth-control" {
		t.Errorf("plugin = %v", m["plugin"])
	}
	if _, ok := m["odd"]; ok {
		t.Error("trailing key without value should be dropped")
	}

	buf.Reset()
	base.Info(context.Background(), "base")
	if _, ok := lastRecord(t, &buf)["plugin"]; ok {
		t.Error("With mutated the parent logger")
	}
	if child.(*slogLogger).maxErrorLinks != base.maxErrorLinks {
		t.Error("With dropped configuration")
	}
}

func TestSlogLogger_KVPairs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})
	l.Warn(context.Background(), "kv", "a", 1, 2, "skipped", "b", "x")

	m := lastRecord(t, &buf)
	if m["a"] != float64(1) || m["b"] != "x" {
		t.Errorf("record = %v", m)
	}
}

// errors

func TestSlogLogger_Error_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})

	err := fmt.Errorf("install: %w", &kindErr{kind: "schema_violation"})
	l.Error(context.Background(), err, "failed", "plugin", "p")

	m := lastRecord(t, &buf)
	if m["err"] != "install: kind schema_violation" {
		t.Errorf("err = %v", m["err"])
	}
	if m["error_type"] != "*log.kindErr" || m["cause_type"] != "*log.kindErr" {
		t.Errorf("types = %v / %v", m["error_type"], m["cause_type"])
	}
	if m["error_kind"] != "schema_violation" {
		t.Errorf("error_kind = %v", m["error_kind"])
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 2 {
		t.Errorf("error_chain = %v", m["error_chain"])
	}
	if m["plugin"] != "p" {
		t.Error("caller kv lost")
	}
	if _, ok := m["error_links"]; ok {
		t.Error("error_links present while disabled")
	}
}

func TestSlogLogger_Error_Plain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})
	l.Error(context.Background(), errors.New("boom"), "failed")

	m := lastRecord(t, &buf)
	if _, ok := m["error_kind"]; ok {
		t.Error("error_kind set for a plain error")
	}
	if _, ok := m["error_chain"]; ok {
		t.Error("single error should not log a chain")
	}
}

func TestSlogLogger_Error_NilError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})
	l.Error(context.Background(), nil, "no error")

	m := lastRecord(t, &buf)
	if _, ok := m["err"]; ok {
		t.Error("err present for nil error")
	}
	if m["level"] != "ERROR" {
		t.Errorf("level = %v", m["level"])
	}
}

func TestSlogLogger_Error_Links(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true, IncludeErrorLinks: true})
	l.Error(context.Background(), fmt.Errorf("outer: %w", errors.New("inner")), "failed")

	links, ok := lastRecord(t, &buf)["error_links"].([]any)
	if !ok || len(links) == 0 {
		t.Fatalf("error_links = %v", links)
	}
	if first := links[0].(map[string]any); first["msg"] != "outer: inner" {
		t.Errorf("first link = %v", first)
	}
}

// handlers

func TestOtelHandler_TraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != traceID.String() || m["span_id"] != spanID.String() {
		t.Errorf("record = %v", m)
	}

	l.Info(context.Background(), "untraced")
	if _, ok := lastRecord(t, &buf)["trace_id"]; ok {
		t.Error("trace_id without a span")
	}
}

func TestStackHandler(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})

	l.Warn(context.Background(), "no stack")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Error("stack below StacktraceLevel")
	}

	l.Error(context.Background(), errors.New("boom"), "with stack")
	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "TestStackHandler") {
		t.Errorf("stack does not start at the caller:\n%s", stack)
	}
	if strings.Contains(stack, "/internal/log.(*slogLogger)") {
		t.Errorf("stack includes logger frames:\n%s", stack)
	}
}

func TestStackHandler_PrefersCapturedStack(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JSON: true})

	var pcs [16]uintptr
	n := capture(pcs[:])
	l.Error(context.Background(), &stackErr{pcs: pcs[:n]}, "captured")

	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "log.capture") {
		t.Errorf("captured stack not used:\n%s", stack)
	}
}

func capture(pcs []uintptr) int {
	return runtime.Callers(1, pcs)
}

// helpers under test

func TestErrorChain(t *testing.T) {
	base := errors.New("base")
	if got := errorChain(fmt.Errorf("a: %w", base)); len(got) != 2 || got[1] != "base" {
		t.Errorf("wrapped chain = %v", got)
	}
	if got := errorChain(fmt.Errorf("%w", base)); len(got) != 1 {
		t.Errorf("identical messages not collapsed: %v", got)
	}
	joined := errors.Join(errors.New("x"), errors.New("y"))
	if got := errorChain(joined); len(got) != 3 || got[1] != "x" || got[2] != "y" {
		t.Errorf("joined chain = %v", got)
	}
}

func TestChainLinks_RespectsMax(t *testing.T) {
	err := fmt.Errorf("a: %w", fmt.Errorf("b: %w", errors.New("c")))
	if got := chainLinks(err, 1); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
	if got := chainLinks(err, 0); len(got) != 1 {
		// only the head has no position and is kept
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestFrameHelpers_Empty(t *testing.T) {
	if _, _, _, ok := frameFromPC(0); ok {
		t.Error("frameFromPC(0) ok")
	}
	if _, _, _, ok := firstExtFrame(nil); ok {
		t.Error("firstExtFrame(nil) ok")
	}
}

func TestClassifyTypes(t *testing.T) {
	if s, r := classifyTypes(nil); s != "" || r != "" {
		t.Errorf("nil = %q, %q", s, r)
	}
	s, r := classifyTypes(fmt.Errorf("wrap: %w", &kindErr{kind: "x"}))
	if s != "*log.kindErr" || r != "*log.kindErr" {
		t.Errorf("wrapped = %q, %q", s, r)
	}
	s, r = classifyTypes(fmt.Errorf("wrap: %w", errors.New("x")))
	if s != "*errors.errorString" || r != "*errors.errorString" {
		t.Errorf("plain = %q, %q", s, r)
	}
}
