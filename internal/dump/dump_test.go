package dump

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/depgraph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
  "python": "3.11",
  "builtins": ["print", "len"],
  "modules": [
    {
      "name": "app",
      "file": "app.py",
      "imports": {"np": "numpy", "helpers": "lib.helpers", "fmt": "lib.helpers.fmt"},
      "code": [
        {"offset": 0, "opname": "LOAD_CONST", "opcode": 100, "arg": 0, "argval": 0},
        {"offset": 2, "opname": "LOAD_CONST", "opcode": 100, "arg": 1, "argval": null},
        {"offset": 4, "opname": "IMPORT_NAME", "opcode": 108, "arg": 0, "argval": "numpy"},
        {"offset": 6, "opname": "IMPORT_NAME", "opcode": 108, "arg": 1, "argval": "lib.helpers"},
        {"offset": 8, "opname": "RETURN_CONST", "opcode": 121, "arg": 1, "argval": null}
      ],
      "functions": [
        {"name": "main", "code": [
          {"offset": 0, "opname": "LOAD_GLOBAL", "opcode": 116, "arg": 0, "argval": "Worker"},
          {"offset": 2, "opname": "CALL", "opcode": 171, "arg": 0},
          {"offset": 4, "opname": "LOAD_METHOD", "opcode": 160, "arg": 1, "argval": "run"},
          {"offset": 6, "opname": "CALL", "opcode": 171, "arg": 0},
          {"offset": 8, "opname": "POP_TOP", "opcode": 1},
          {"offset": 10, "opname": "LOAD_GLOBAL", "opcode": 116, "arg": 2, "argval": "print"},
          {"offset": 12, "opname": "LOAD_CONST", "opcode": 100, "arg": 1, "argval": "done"},
          {"offset": 14, "opname": "CALL", "opcode": 171, "arg": 1},
          {"offset": 16, "opname": "RETURN_VALUE", "opcode": 83}
        ]}
      ],
      "classes": [
        {"name": "Base", "methods": [
          {"name": "log", "code": [
            {"offset": 0, "opname": "LOAD_GLOBAL", "opcode": 116, "arg": 0, "argval": "helpers"},
            {"offset": 2, "opname": "LOAD_ATTR", "opcode": 106, "arg": 1, "argval": "fmt"},
            {"offset": 4, "opname": "CALL", "opcode": 171, "arg": 0},
            {"offset": 6, "opname": "RETURN_VALUE", "opcode": 83}
          ]}
        ]},
        {"name": "Worker", "bases": ["Base"], "methods": [
          {"name": "__init__", "code": [
            {"offset": 0, "opname": "RETURN_CONST", "opcode": 121, "arg": 0, "argval": null}
          ]},
          {"name": "run", "code": [
            {"offset": 0, "opname": "LOAD_FAST", "opcode": 124, "arg": 0, "argval": "self"},
            {"offset": 2, "opname": "LOAD_ATTR", "opcode": 106, "arg": 0, "argval": "log"},
            {"offset": 4, "opname": "CALL", "opcode": 171, "arg": 0},
            {"offset": 6, "opname": "POP_TOP", "opcode": 1},
            {"offset": 8, "opname": "LOAD_GLOBAL", "opcode": 116, "arg": 1, "argval": "np"},
            {"offset": 10, "opname": "LOAD_ATTR", "opcode": 106, "arg": 2, "argval": "linalg"},
            {"offset": 12, "opname": "LOAD_ATTR", "opcode": 106, "arg": 3, "argval": "solve"},
            {"offset": 14, "opname": "CALL", "opcode": 171, "arg": 0},
            {"offset": 16, "opname": "RETURN_VALUE", "opcode": 83}
          ]}
        ]}
      ]
    },
    {
      "name": "lib.helpers",
      "file": "lib/helpers.py",
      "code": [
        {"offset": 0, "opname": "IMPORT_NAME", "opcode": 108, "arg": 0, "argval": "os"},
        {"offset": 2, "opname": "RETURN_CONST", "opcode": 121, "arg": 0, "argval": null}
      ],
      "functions": [
        {"name": "fmt", "code": [
          {"offset": 0, "opname": "LOAD_GLOBAL", "opcode": 116, "arg": 0, "argval": "len"},
          {"offset": 2, "opname": "LOAD_FAST", "opcode": 124, "arg": 0, "argval": "x"},
          {"offset": 4, "opname": "CALL", "opcode": 171, "arg": 1},
          {"offset": 6, "opname": "RETURN_VALUE", "opcode": 83}
        ]}
      ]
    }
  ]
}`

func parseFixture(t *testing.T, opts ...Option) *Image {
	t.Helper()
	img, err := Parse(strings.NewReader(fixture), opts...)
	require.NoError(t, err)
	return img
}

func TestParse_Argval(t *testing.T) {
	img := parseFixture(t)
	app, ok := img.Module("app")
	require.True(t, ok)

	assert.Equal(t, "0", app.Code[0].Argval)
	assert.Equal(t, "", app.Code[1].Argval)
	assert.Equal(t, "numpy", app.Code[2].Argval)
	require.NotNil(t, app.Code[0].Arg)
	assert.Equal(t, 0, *app.Code[0].Arg)

	main, ok := app.Function("main")
	require.True(t, ok)
	assert.False(t, main.Code[4].HasArg())
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"syntax":         `{"modules": [`,
		"missing name":   `{"modules": [{"code": []}]}`,
		"duplicate":      `{"modules": [{"name": "a"}, {"name": "a"}]}`,
		"offset order":   `{"modules": [{"name": "a", "code": [{"offset": 2, "opname": "NOP"}, {"offset": 2, "opname": "NOP"}]}]}`,
		"missing opname": `{"modules": [{"name": "a", "code": [{"offset": 0}]}]}`,
		"null module":    `{"modules": [null]}`,
		"null function":  `{"modules": [{"name": "a", "functions": [null]}]}`,
		"null class":     `{"modules": [{"name": "a", "classes": [null]}]}`,
		"null method":    `{"modules": [{"name": "a", "classes": [{"name": "C", "methods": [null]}]}]}`,
		"unnamed method": `{"modules": [{"name": "a", "classes": [{"name": "C", "methods": [{"code": []}]}]}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	img, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, img.Modules, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	img := parseFixture(t)
	tests := map[string]string{
		"app":            "app",
		"app:main":       "app.main",
		"app:Worker.run": "app.Worker.run",
		"app:Worker":     "app.Worker.__init__",
		"app:Base":       "app.Base",
	}
	for entry, want := range tests {
		r, err := img.Lookup(entry)
		require.NoError(t, err, entry)
		assert.Equal(t, want, r.QualName(), entry)
	}

	for _, bad := range []string{"nope", "app:missing", "app:Worker.missing", "app:a.b.c"} {
		_, err := img.Lookup(bad)
		assert.ErrorIs(t, err, ErrBadEntry, bad)
	}
}

func TestResolveCallable(t *testing.T) {
	img := parseFixture(t)
	run, err := img.Lookup("app:Worker.run")
	require.NoError(t, err)
	main, err := img.Lookup("app:main")
	require.NoError(t, err)
	fmtFn, err := img.Lookup("lib.helpers:fmt")
	require.NoError(t, err)

	tests := []struct {
		name   string
		base   string
		chain  []string
		caller callgraph.Callable
		want   string
		kind   RefKind
	}{
		{"receiver through base class", "self", []string{"log"}, run, "app.Base.log", MethodRef},
		{"receiver own method", "self", []string{"run"}, run, "app.Worker.run", MethodRef},
		{"class call runs __init__", "Worker", nil, main, "app.Worker.__init__", MethodRef},
		{"module function", "main", nil, run, "app.main", FunctionRef},
		{"alias to image module", "helpers", []string{"fmt"}, run, "lib.helpers.fmt", FunctionRef},
		{"from-import alias", "fmt", nil, main, "lib.helpers.fmt", FunctionRef},
		{"alias to external module", "np", []string{"linalg", "solve"}, run, "numpy.linalg.solve", ExternalRef},
		{"fully qualified", "lib", []string{"helpers", "fmt"}, main, "lib.helpers.fmt", FunctionRef},
		{"builtin", "len", nil, fmtFn, "builtins.len", BuiltinRef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := img.ResolveCallable(tt.base, tt.chain, tt.caller)
			require.NoError(t, err)
			r := c.(*Ref)
			assert.Equal(t, tt.want, r.QualName())
			assert.Equal(t, tt.kind, r.Kind)
		})
	}

	misses := []struct {
		base  string
		chain []string
	}{
		{"self", []string{"missing"}},
		{"self", nil},
		{"ghost", nil},
		{"print", []string{"attr"}},
		{"helpers", []string{"missing"}},
	}
	for _, m := range misses {
		_, err := img.ResolveCallable(m.base, m.chain, run)
		assert.ErrorIs(t, err, callgraph.ErrNameNotFound, "%s %v", m.base, m.chain)
	}
}

func TestReceiverOption(t *testing.T) {
	img := parseFixture(t, WithReceiver("this"))
	run, err := img.Lookup("app:Worker.run")
	require.NoError(t, err)
	_, err = img.ResolveCallable("self", []string{"log"}, run)
	assert.ErrorIs(t, err, callgraph.ErrNameNotFound)
	c, err := img.ResolveCallable("this", []string{"log"}, run)
	require.NoError(t, err)
	assert.Equal(t, "app.Base.log", c.QualName())
}

func TestDecode(t *testing.T) {
	img := parseFixture(t)
	main, _ := img.Lookup("app:main")
	insts, err := img.Decode(main)
	require.NoError(t, err)
	assert.Len(t, insts, 9)

	for _, opaque := range []callgraph.Callable{
		&Ref{Kind: BuiltinRef, Name: "print"},
		&Ref{Kind: ExternalRef, Name: "numpy.linalg.solve"},
	} {
		_, err := img.Decode(opaque)
		assert.ErrorIs(t, err, callgraph.ErrDecodeUnavailable)
	}
}

func TestCallGraphOverImage(t *testing.T) {
	img := parseFixture(t)
	entry, err := img.Lookup("app:main")
	require.NoError(t, err)

	res, err := callgraph.NewBuilder(img, img).Build(context.Background(), entry)
	require.NoError(t, err)

	g := res.Graph()
	assert.Equal(t, 1, g.Weight("app.main", "app.Worker.__init__"))
	assert.Equal(t, 1, g.Weight("app.main", "builtins.print"))
	assert.True(t, res.Record.Opaque("builtins.print"))
	assert.False(t, res.Record.Opaque("app.Worker.__init__"))

	// Worker() returns an instance; .run on it is not traceable by name.
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, 6, res.Unresolved[0].Offset)

	entry, err = img.Lookup("app:Worker.run")
	require.NoError(t, err)
	res, err = callgraph.NewBuilder(img, img).Build(context.Background(), entry)
	require.NoError(t, err)

	g = res.Graph()
	assert.Equal(t, 1, g.Weight("app.Worker.run", "app.Base.log"))
	assert.Equal(t, 1, g.Weight("app.Base.log", "lib.helpers.fmt"))
	assert.Equal(t, 1, g.Weight("lib.helpers.fmt", "builtins.len"))
	assert.Equal(t, 1, g.Weight("app.Worker.run", "numpy.linalg.solve"))
	assert.True(t, res.Record.Opaque("builtins.len"))
	assert.True(t, res.Record.Opaque("numpy.linalg.solve"))
	assert.Empty(t, res.Unresolved)
}

const cycle = `{
  "modules": [
    {"name": "app", "functions": [
      {"name": "a", "code": [
        {"offset": 0, "opname": "LOAD_GLOBAL", "arg": 0, "argval": "b"},
        {"offset": 2, "opname": "CALL", "arg": 0},
        {"offset": 4, "opname": "RETURN_VALUE"}
      ]},
      {"name": "b", "code": [
        {"offset": 0, "opname": "LOAD_GLOBAL", "arg": 0, "argval": "a"},
        {"offset": 2, "opname": "CALL", "arg": 0},
        {"offset": 4, "opname": "RETURN_VALUE"}
      ]}
    ]}
  ]
}`

func TestCallGraphOverImage_Cycle(t *testing.T) {
	img, err := Parse(strings.NewReader(cycle))
	require.NoError(t, err)
	entry, err := img.Lookup("app:a")
	require.NoError(t, err)

	res, err := callgraph.NewBuilder(img, img).Build(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, []string{"app.a", "app.b"}, res.Record.Names())
	g := res.Graph()
	assert.ElementsMatch(t, []string{"app.a", "app.b"}, g.Nodes())
	assert.Equal(t, []callgraph.Edge{
		{Caller: "app.a", Callee: "app.b", Weight: 1},
		{Caller: "app.b", Callee: "app.a", Weight: 1},
	}, g.Edges())
}

func TestDepGraphOverImage(t *testing.T) {
	img := parseFixture(t)
	g, err := depgraph.NewBuilder(img, "", depgraph.WithLocator(img)).Build(context.Background(), "app")
	require.NoError(t, err)

	kinds := map[string]depgraph.Kind{}
	for _, n := range g.Nodes() {
		kinds[n.Name] = n.Kind
	}
	assert.Equal(t, map[string]depgraph.Kind{
		"app":         depgraph.LocalFile,
		"numpy":       depgraph.ExternalLibrary,
		"lib.helpers": depgraph.LocalFile,
		"os":          depgraph.ExternalLibrary,
	}, kinds)
	assert.Len(t, g.Edges(), 3)
}
