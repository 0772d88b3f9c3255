// Package filestore persists each conversation as one JSON document,
// <dir>/<escaped name>.json, shaped {"events": [<encoded event>, ...]}.
//
// Every Append rewrites the whole document: the existing log is read,
// the new events are concatenated, and the result is re-encoded and
// written over the old file. The cost of an append therefore grows with the
// length of the conversation. Writes for one name are serialized within a
// process; no file locking protects against a second process.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/store"
)

const ext = ".json"

// Store is a directory of conversation documents.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[agent.ContextName]*sync.Mutex
}

type document struct {
	Events []json.RawMessage `json:"events"`
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, locks: make(map[agent.ContextName]*sync.Mutex)}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file that holds the named conversation.
func (s *Store) Path(name agent.ContextName) string {
	return filepath.Join(s.dir, url.PathEscape(string(name))+ext)
}

func (s *Store) lockFor(name agent.ContextName) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) Load(ctx context.Context, name agent.ContextName) ([]agent.Event, error) {
	if name == "" {
		return nil, store.LoadError(name, "empty context name", nil)
	}
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()
	return s.read(ctx, name)
}

func (s *Store) read(ctx context.Context, name agent.ContextName) ([]agent.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.LoadError(name, "load cancelled", err)
	}
	b, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return []agent.Event{}, nil
	}
	if err != nil {
		return nil, store.LoadError(name, "read log", err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, store.LoadError(name, "parse log", err)
	}
	events, err := agent.DecodeAll(doc.Events)
	if err != nil {
		return nil, store.LoadError(name, "decode log", err)
	}
	return events, nil
}

func (s *Store) Append(ctx context.Context, name agent.ContextName, events []agent.Event) error {
	if err := store.CheckAppend(name, events); err != nil {
		return err
	}
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	existing, err := s.read(ctx, name)
	if err != nil {
		return store.SaveError(name, "read existing log", err)
	}
	all := append(existing, events...)
	raw, err := agent.EncodeAll(all)
	if err != nil {
		return store.SaveError(name, "encode log", err)
	}
	b, err := json.Marshal(document{Events: raw})
	if err != nil {
		return store.SaveError(name, "encode log", err)
	}
	if err := ctx.Err(); err != nil {
		return store.SaveError(name, "append cancelled", err)
	}
	if err := writeFile(s.Path(name), b); err != nil {
		return store.SaveError(name, "write log", err)
	}
	return nil
}

// writeFile replaces path with b through a temp file in the same directory.
func writeFile(path string, b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) Names(ctx context.Context) ([]agent.ContextName, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []agent.ContextName
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasSuffix(n, ext) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(n, ext))
		if err != nil {
			continue
		}
		out = append(out, agent.ContextName(name))
	}
	slices.Sort(out)
	return out, nil
}
