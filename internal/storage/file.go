package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	sessionFileName    = "session.yml"
	currentSessionFile = "current_session"
)

// FileStore keeps one YAML document per session under
// <root>/data/<name>/session.yml and the current session name in
// <root>/current_session.
type FileStore struct {
	root string
}

// NewFileStore creates the directory layout below root if needed
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "data"), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) sessionPath(name string) string {
	return filepath.Join(s.root, "data", name, sessionFileName)
}

func (s *FileStore) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "data"))
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.sessionPath(e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) GetSession(ctx context.Context, name string) (map[string]string, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.sessionPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", ErrInvalidData, name, err)
	}
	return values, nil
}

func (s *FileStore) SaveSession(ctx context.Context, name string, values map[string]string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	raw, err := yaml.Marshal(values)
	if err != nil {
		return err
	}

	path := s.sessionPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, raw, 0o600)
}

func (s *FileStore) DeleteSession(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	dir := filepath.Dir(s.sessionPath(name))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	if cur, err := s.CurrentSession(ctx); err == nil && cur == name {
		return s.SetCurrentSession(ctx, "")
	}
	return nil
}

func (s *FileStore) CurrentSession(ctx context.Context) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, currentSessionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(string(raw))
	if name == "" {
		return "", ErrNotFound
	}
	return name, nil
}

func (s *FileStore) SetCurrentSession(ctx context.Context, name string) error {
	path := filepath.Join(s.root, currentSessionFile)
	if name == "" {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := os.Stat(s.sessionPath(name)); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return writeFileAtomic(path, []byte(name+"\n"), 0o644)
}

func (s *FileStore) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
