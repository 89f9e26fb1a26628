package cache

import (
	"context"
	"errors"
	"testing"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fn string

func (f fn) QualName() string { return string(f) }

// tinyProgram: main calls helper twice and print once.
type tinyProgram struct{}

func (tinyProgram) Decode(c callgraph.Callable) ([]disasm.Inst, error) {
	switch c.QualName() {
	case "main":
		return []disasm.Inst{
			{Offset: 0, Opname: "LOAD_GLOBAL", Arg: disasm.IntArg(0), Argval: "helper"},
			{Offset: 2, Opname: "CALL_FUNCTION", Arg: disasm.IntArg(0), Argval: "0"},
			{Offset: 4, Opname: "LOAD_GLOBAL", Arg: disasm.IntArg(0), Argval: "helper"},
			{Offset: 6, Opname: "CALL_FUNCTION", Arg: disasm.IntArg(0), Argval: "0"},
			{Offset: 8, Opname: "LOAD_GLOBAL", Arg: disasm.IntArg(1), Argval: "print"},
			{Offset: 10, Opname: "CALL_FUNCTION", Arg: disasm.IntArg(0), Argval: "0"},
			{Offset: 12, Opname: "RETURN_VALUE"},
		}, nil
	case "helper":
		return []disasm.Inst{{Offset: 0, Opname: "RETURN_VALUE"}}, nil
	}
	return nil, callgraph.ErrDecodeUnavailable
}

func (tinyProgram) ResolveCallable(base string, chain []string, _ callgraph.Callable) (callgraph.Callable, error) {
	if len(chain) > 0 {
		return nil, callgraph.ErrNameNotFound
	}
	return fn(base), nil
}

func build(t *testing.T) *callgraph.Result {
	t.Helper()
	p := tinyProgram{}
	res, err := callgraph.NewBuilder(p, p).Build(context.Background(), fn("main"))
	require.NoError(t, err)
	return res
}

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := openMem(t)
	res := build(t)
	key := Key{Image: Digest([]byte("image")), Options: OptionsDigest(16, 16, "self"), Entry: "main"}

	require.NoError(t, s.Put(key, SnapshotOf(res)))

	snap, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "main", snap.Entry)

	back := snap.Result()
	assert.Equal(t, res.Record.Names(), back.Record.Names())
	assert.True(t, back.Record.Opaque("print"))
	assert.False(t, back.Record.Opaque("helper"))

	want, got := res.Graph(), back.Graph()
	assert.Equal(t, want.Nodes(), got.Nodes())
	assert.Equal(t, want.Edges(), got.Edges())
	assert.Equal(t, 2, got.Weight("main", "helper"))
}

func TestStore_Miss(t *testing.T) {
	s := openMem(t)
	_, err := s.Get(Key{Image: "x", Options: "y", Entry: "main"})
	assert.True(t, errors.Is(err, ErrNotCached))
}

func TestStore_KeyIncludesOptions(t *testing.T) {
	s := openMem(t)
	img := Digest([]byte("image"))
	require.NoError(t, s.Put(Key{Image: img, Options: OptionsDigest(true), Entry: "main"}, SnapshotOf(build(t))))

	_, err := s.Get(Key{Image: img, Options: OptionsDigest(false), Entry: "main"})
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestStore_Entries(t *testing.T) {
	s := openMem(t)
	snap := SnapshotOf(build(t))
	require.NoError(t, s.Put(Key{Image: "aa", Options: "o", Entry: "app:main"}, snap))
	require.NoError(t, s.Put(Key{Image: "aa", Options: "o", Entry: "app:Worker.run"}, snap))
	require.NoError(t, s.Put(Key{Image: "bb", Options: "o", Entry: "other"}, snap))

	entries, err := s.Entries("aa")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app:main", "app:Worker.run"}, entries)
}

func TestCanonicalEncoding(t *testing.T) {
	snap := SnapshotOf(build(t))
	a, err := encMode.Marshal(snap)
	require.NoError(t, err)
	b, err := encMode.Marshal(SnapshotOf(build(t)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_Disk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	key := Key{Image: "i", Options: "o", Entry: "main"}
	require.NoError(t, s.Put(key, SnapshotOf(build(t))))
	require.NoError(t, s.Close())

	s, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	snap, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "main", snap.Entry)
}
