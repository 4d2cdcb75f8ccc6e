package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEdgeKindConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     EdgeKind
		expected string
	}{
		{"Contains", EdgeContains, "contains"},
		{"Inherits", EdgeInherits, "inherits"},
		{"Calls", EdgeCalls, "calls"},
		{"Instantiates", EdgeInstantiates, "instantiates"},
		{"Imports", EdgeImports, "imports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, string(tt.kind))
		})
	}
}

func TestEntityID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		unit      string
		qualified []string
		expected  string
	}{
		{"Module", "models/user.py", nil, "models/user.py"},
		{"TopLevel", "calls.py", []string{"greet"}, "calls.py::greet"},
		{"Method", "calls.py", []string{"Calculator", "add"}, "calls.py::Calculator.add"},
		{"Nested", "a.py", []string{"Outer", "Inner", "run"}, "a.py::Outer.Inner.run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, EntityID(tt.unit, tt.qualified...))
		})
	}
}

func TestEntity_QualifiedName(t *testing.T) {
	t.Parallel()

	t.Run("Method", func(t *testing.T) {
		t.Parallel()
		e := &Entity{ID: "a.py::Dog.fetch", Name: "fetch", Kind: KindMethod}
		assert.Equal(t, "Dog.fetch", e.QualifiedName())
	})

	t.Run("Module", func(t *testing.T) {
		t.Parallel()
		e := &Entity{ID: "pkg/__init__.py", Name: "pkg", Kind: KindModule}
		assert.Equal(t, "pkg", e.QualifiedName())
	})
}

func TestEntity_Parent(t *testing.T) {
	t.Parallel()

	module := &Entity{ID: "a.py", Kind: KindModule}
	method := &Entity{ID: "a.py::Dog.bark", Kind: KindMethod, ScopePath: []string{"a.py", "a.py::Dog"}}

	assert.Empty(t, module.Parent())
	assert.Equal(t, "a.py::Dog", method.Parent())
}

func TestEntity_Attributes(t *testing.T) {
	t.Parallel()

	e := &Entity{ID: "a.py::f"}
	assert.Empty(t, e.Attr(AttrAsync))

	e.SetAttr(AttrAsync, "true")
	assert.Equal(t, "true", e.Attr(AttrAsync))
}

func TestEdge_String(t *testing.T) {
	t.Parallel()

	t.Run("Resolved", func(t *testing.T) {
		t.Parallel()
		e := &Edge{Kind: EdgeInherits, From: "b.py::Child", To: "a.py::Base", Target: "Base"}
		assert.False(t, e.Unresolved())
		assert.Equal(t, "inherits(b.py::Child -> a.py::Base)", e.String())
	})

	t.Run("Unresolved", func(t *testing.T) {
		t.Parallel()
		e := &Edge{Kind: EdgeCalls, From: "a.py::main", Target: "print", Style: StyleDirect}
		assert.True(t, e.Unresolved())
		assert.Equal(t, "Unresolved(print)", e.TargetLabel())
		assert.Equal(t, "calls(a.py::main -> Unresolved(print))", e.String())
	})
}

func TestSpan_String(t *testing.T) {
	t.Parallel()
	s := Span{Unit: "malformed.py", StartLine: 3, StartCol: 20}
	assert.Equal(t, "malformed.py:3:20", s.String())
}

func TestParseFailure_Error(t *testing.T) {
	t.Parallel()

	var err error = &ParseFailure{Unit: "malformed.py", Message: "syntax error at line 3, column 20"}
	assert.EqualError(t, err, "malformed.py: syntax error at line 3, column 20")
}

func TestBuildReport(t *testing.T) {
	t.Parallel()

	r := &BuildReport{
		Failures: []ParseFailure{{Unit: "bad.py", Message: "unreadable"}},
		Unresolved: []UnresolvedReference{
			{Edge: &Edge{Target: "print"}, Reason: ReasonBuiltin},
			{Edge: &Edge{Target: "len"}, Reason: ReasonBuiltin},
			{Edge: &Edge{Target: "os.path.join"}, Reason: ReasonExternal},
		},
	}

	assert.True(t, r.HasFailures())
	assert.NotNil(t, r.FailureFor("bad.py"))
	assert.Nil(t, r.FailureFor("good.py"))

	counts := r.UnresolvedByReason()
	assert.Equal(t, 2, counts[ReasonBuiltin])
	assert.Equal(t, 1, counts[ReasonExternal])
	assert.Zero(t, counts[ReasonCycle])
}
