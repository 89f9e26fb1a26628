// Package cache persists call graph results between runs.
//
// Results are keyed by the digest of the bytecode image, a fingerprint of
// the options that shaped the build and the entry point. Values are CBOR in
// canonical mode so identical results produce identical bytes.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// ErrNotCached is returned by Get when no snapshot exists for a key.
var ErrNotCached = errors.New("not cached")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Config holds configuration for a Store.
type Config struct {
	// Dir is the badger directory. Ignored when InMemory is true.
	Dir string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal messages. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns an on-disk configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store is a badger-backed snapshot cache. It is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("cache: directory is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("cache: create directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key identifies one cached build.
type Key struct {
	Image   string // Digest of the image bytes
	Options string // Digest of the build options
	Entry   string
}

func (k Key) bytes() []byte {
	return []byte("callgraph/" + k.Image + "/" + k.Options + "/" + k.Entry)
}

// Digest returns a short content hash for use in keys.
func Digest(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// OptionsDigest fingerprints the build options that change a result.
func OptionsDigest(parts ...any) string {
	return Digest([]byte(fmt.Sprint(parts...)))
}

// FuncCode is a recorded name with its listing. An empty listing marks an
// opaque callable.
type FuncCode struct {
	Name  string        `cbor:"1,keyasint"`
	Insts []disasm.Inst `cbor:"2,keyasint,omitempty"`
}

// Snapshot is the persisted form of a callgraph.Result: the record, the
// merged graph and the unresolved sites. Per-function call sites are not
// kept.
type Snapshot struct {
	Entry      string                 `cbor:"1,keyasint"`
	Funcs      []FuncCode             `cbor:"2,keyasint"`
	Nodes      []string               `cbor:"3,keyasint"`
	Edges      []callgraph.Edge       `cbor:"4,keyasint"`
	Unresolved []callgraph.Unresolved `cbor:"5,keyasint,omitempty"`
}

// SnapshotOf captures a build result.
func SnapshotOf(res *callgraph.Result) *Snapshot {
	g := res.Graph()
	snap := &Snapshot{
		Entry:      res.Entry,
		Nodes:      g.Nodes(),
		Edges:      g.Edges(),
		Unresolved: res.Unresolved,
	}
	for _, name := range res.Record.Names() {
		insts, _ := res.Record.Get(name)
		snap.Funcs = append(snap.Funcs, FuncCode{Name: name, Insts: insts})
	}
	return snap
}

// Result rebuilds a callgraph.Result. The merged graph becomes the only
// subgraph, keyed by the entry name.
func (s *Snapshot) Result() *callgraph.Result {
	rec := callgraph.NewRecord()
	for _, f := range s.Funcs {
		rec.Add(f.Name, f.Insts)
	}
	g := callgraph.NewGraph()
	for _, n := range s.Nodes {
		g.AddNode(n)
	}
	for _, e := range s.Edges {
		g.AddEdge(e.Caller, e.Callee, e.Weight)
	}
	return &callgraph.Result{
		Entry:      s.Entry,
		Record:     rec,
		Subgraphs:  map[string]*callgraph.Graph{s.Entry: g},
		Unresolved: s.Unresolved,
		Known:      s.Nodes,
	}
}

// Put stores a snapshot under key, replacing any previous value.
func (s *Store) Put(key Key, snap *Snapshot) error {
	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key.Entry, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key.bytes(), data)
	})
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", key.Entry, err)
	}
	return nil
}

// Get loads the snapshot stored under key. It returns ErrNotCached when
// there is none.
func (s *Store) Get(key Key) (*Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.bytes())
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", key.Entry, err)
	}

	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("cache: unmarshal %s: %w", key.Entry, err)
	}
	return &snap, nil
}

// Entries lists the entry names cached for an image digest.
func (s *Store) Entries(image string) ([]string, error) {
	prefix := []byte("callgraph/" + image + "/")
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, string(prefix))
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				out = append(out, rest[i+1:])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache: list %s: %w", image, err)
	}
	return out, nil
}
