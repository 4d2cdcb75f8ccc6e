package parsers

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/graph"
)

const simpleSource = `"""Simple module."""


def greet(name):
    """Say hello."""
    return f"Hello, {name}!"


class Person:
    def __init__(self, name):
        self.name = name

    async def introduce(self):
        return greet(self.name)
`

const malformedSource = `"""Module with intentional syntax errors for testing error handling."""


def broken_function(
    # Missing closing parenthesis and colon
    return "This won't parse"


class BrokenClass
    # Missing colon
    def method(self):
        pass
`

func TestPythonParser_Parse(t *testing.T) {
	t.Parallel()

	p := NewPythonParser(nil)
	assert.Equal(t, "python", p.Language())

	tree, err := p.Parse(context.Background(), "simple.py", []byte(simpleSource))
	require.NoError(t, err)
	require.NotNil(t, tree.Root)

	assert.Equal(t, "module", tree.Root.Type)
	assert.False(t, tree.HasErrors())
	assert.Empty(t, tree.Diagnostics())

	t.Run("Fields", func(t *testing.T) {
		t.Parallel()
		fn := tree.Root.FirstChild("function_definition")
		require.NotNil(t, fn)
		assert.Equal(t, "greet", fn.Field("name").Text())
		assert.Equal(t, "(name)", fn.Field("parameters").Text())
		assert.Equal(t, "block", fn.Field("body").Type)
		assert.Equal(t, 4, fn.Span.StartLine)
		assert.Equal(t, 0, fn.Span.StartCol)
		assert.Equal(t, "simple.py", fn.Span.Unit)
	})

	t.Run("Tokens", func(t *testing.T) {
		t.Parallel()
		class := tree.Root.FirstChild("class_definition")
		require.NotNil(t, class)
		assert.Equal(t, "Person", class.Field("name").Text())

		var methods []*Node
		for _, c := range class.Field("body").Children {
			if c.Type == "function_definition" {
				methods = append(methods, c)
			}
		}
		require.Len(t, methods, 2)
		assert.False(t, methods[0].HasToken("async"))
		assert.True(t, methods[1].HasToken("async"))
	})

	t.Run("Walk", func(t *testing.T) {
		t.Parallel()
		calls := 0
		tree.Root.Walk(func(n *Node) bool {
			if n.Type == "call" {
				calls++
			}
			return true
		})
		assert.Equal(t, 1, calls)
	})
}

func TestPythonParser_SyntaxErrors(t *testing.T) {
	t.Parallel()

	tree, err := NewPythonParser(nil).Parse(context.Background(), "malformed.py", []byte(malformedSource))
	require.NoError(t, err, "tree-sitter recovers instead of failing")

	require.True(t, tree.HasErrors())
	diags := tree.Diagnostics()
	require.NotEmpty(t, diags)
	assert.Equal(t, graph.SeverityWarning, diags[0].Severity)
	assert.Equal(t, "malformed.py", diags[0].Unit)
}

func TestAdapter_StrictMode(t *testing.T) {
	t.Parallel()

	a := NewAdapter(NewPythonParser(nil), config.Default(), nil)

	t.Run("ValidUnit", func(t *testing.T) {
		t.Parallel()
		tree, err := a.Parse(context.Background(), "simple.py", []byte(simpleSource))
		require.NoError(t, err)
		assert.NotNil(t, tree.Root)
	})

	t.Run("BrokenUnitFails", func(t *testing.T) {
		t.Parallel()
		_, err := a.Parse(context.Background(), "malformed.py", []byte(malformedSource))
		require.Error(t, err)

		var failure *graph.ParseFailure
		require.True(t, errors.As(err, &failure))
		assert.Equal(t, "malformed.py", failure.Unit)
		assert.True(t, strings.HasPrefix(failure.Message, "syntax error at line") ||
			strings.HasPrefix(failure.Message, "missing "), failure.Message)
		assert.Positive(t, failure.Span.StartLine)
	})

	t.Run("ReparseIsIdentical", func(t *testing.T) {
		t.Parallel()
		_, err1 := a.Parse(context.Background(), "malformed.py", []byte(malformedSource))
		_, err2 := a.Parse(context.Background(), "malformed.py", []byte(malformedSource))
		require.Error(t, err1)
		require.Error(t, err2)
		assert.Equal(t, err1, err2)
	})
}

func TestAdapter_RecoverMode(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.SyntaxMode = config.SyntaxRecover
	a := NewAdapter(NewPythonParser(nil), cfg, nil)

	tree, err := a.Parse(context.Background(), "malformed.py", []byte(malformedSource))
	require.NoError(t, err)
	assert.NotEmpty(t, tree.Diagnostics())
}

func TestAdapter_ContentChecks(t *testing.T) {
	t.Parallel()

	t.Run("TooLarge", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.MaxFileSize = 8
		a := NewAdapter(NewPythonParser(nil), cfg, nil)

		_, err := a.Parse(context.Background(), "big.py", []byte("x = 1\ny = 2\n"))
		var failure *graph.ParseFailure
		require.ErrorAs(t, err, &failure)
		assert.Contains(t, failure.Message, ErrFileTooLarge.Error())
	})

	t.Run("InvalidUTF8", func(t *testing.T) {
		t.Parallel()
		a := NewAdapter(NewPythonParser(nil), nil, nil)

		_, err := a.Parse(context.Background(), "bin.py", []byte{0xff, 0xfe, 0x00})
		var failure *graph.ParseFailure
		require.ErrorAs(t, err, &failure)
		assert.Contains(t, failure.Message, ErrInvalidContent.Error())
	})
}

// stubParser is a backend with scripted behavior.
type stubParser struct {
	delay  time.Duration
	panics bool
	err    error
	calls  atomic.Int32
}

func (s *stubParser) Language() string { return "stub" }

func (s *stubParser) Parse(ctx context.Context, unit string, content []byte) (*Tree, error) {
	s.calls.Add(1)
	if s.panics {
		panic("backend exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Tree{Unit: unit, Source: content, Root: NewNode("module", graph.Span{Unit: unit}, content, nil, nil)}, nil
}

func TestAdapter_BackendFailures(t *testing.T) {
	t.Parallel()

	t.Run("Timeout", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.ParseTimeout = 20 * time.Millisecond
		a := NewAdapter(&stubParser{delay: 5 * time.Second}, cfg, nil)

		start := time.Now()
		_, err := a.Parse(context.Background(), "slow.py", []byte("x = 1"))
		assert.Less(t, time.Since(start), 2*time.Second)

		var failure *graph.ParseFailure
		require.ErrorAs(t, err, &failure)
		assert.Contains(t, failure.Message, ErrParseTimeout.Error())
	})

	t.Run("Panic", func(t *testing.T) {
		t.Parallel()
		a := NewAdapter(&stubParser{panics: true}, nil, nil)

		_, err := a.Parse(context.Background(), "boom.py", []byte("x = 1"))
		var failure *graph.ParseFailure
		require.ErrorAs(t, err, &failure)
		assert.Contains(t, failure.Message, "backend exploded")
	})

	t.Run("BackendError", func(t *testing.T) {
		t.Parallel()
		a := NewAdapter(&stubParser{err: errors.New("no grammar")}, nil, nil)

		_, err := a.Parse(context.Background(), "x.py", []byte("x = 1"))
		var failure *graph.ParseFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "no grammar", failure.Message)
	})

	t.Run("CallerCanceled", func(t *testing.T) {
		t.Parallel()
		backend := &stubParser{}
		a := NewAdapter(backend, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := a.Parse(ctx, "x.py", []byte("x = 1"))

		assert.ErrorIs(t, err, context.Canceled)
		var failure *graph.ParseFailure
		assert.False(t, errors.As(err, &failure))
		assert.Zero(t, backend.calls.Load())
	})
}
