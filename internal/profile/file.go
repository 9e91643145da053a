package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/ent0n29/voicecart/internal/extract"
)

const (
	currentFileVersion = 1
	profileFileMode    = 0o600
	profileDirMode     = 0o700
	tempFilePattern    = ".profiles-*.toml.tmp"
)

type fileSchema struct {
	Version  int       `toml:"version"`
	Profiles []Profile `toml:"profiles"`
}

// FileStore keeps profiles in a TOML file, rewritten atomically on every update.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("profile file path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path: %w", err)
	}
	return &FileStore{path: filepath.Clean(abs)}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.read()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range file.Profiles {
		if p.UserID == userID {
			return p, nil
		}
	}
	return Profile{}, ErrNotFound
}

func (s *FileStore) Update(ctx context.Context, userID string, partial map[extract.Field]string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return Profile{}, err
	}

	idx := -1
	for i := range file.Profiles {
		if file.Profiles[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		file.Profiles = append(file.Profiles, Profile{UserID: userID})
		idx = len(file.Profiles) - 1
	}
	p := &file.Profiles[idx]
	p.Apply(partial)
	p.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	updated := *p

	sort.Slice(file.Profiles, func(i, j int) bool { return file.Profiles[i].UserID < file.Profiles[j].UserID })
	if err := s.write(file); err != nil {
		return Profile{}, err
	}
	return updated, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (fileSchema, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{Version: currentFileVersion}, nil
		}
		return fileSchema{}, fmt.Errorf("read profile file: %w", err)
	}
	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode profile file: %w", err)
	}
	if file.Version > currentFileVersion {
		return fileSchema{}, fmt.Errorf("unsupported profile file version %d (current %d)", file.Version, currentFileVersion)
	}
	if file.Version == 0 {
		file.Version = currentFileVersion
	}
	return file, nil
}

func (s *FileStore) write(file fileSchema) error {
	if err := os.MkdirAll(filepath.Dir(s.path), profileDirMode); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode profile file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp profile file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp profile file: %w", err)
	}
	if err := tmp.Chmod(profileFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp profile file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp profile file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace profile file: %w", err)
	}
	cleanup = false
	return nil
}
