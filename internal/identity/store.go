package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ClareAI/astra-sip-bridge/pkg/redis"
)

// Store persists the dynamic identity table.
type Store interface {
	Load(ctx context.Context) (Links, error)
	Save(ctx context.Context, links Links) error
}

// FileStore keeps the table as a JSON object on disk. Writes go to a temp
// file that is renamed over the target.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Load(ctx context.Context) (Links, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Links{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	return ParseLinks(raw)
}

func (s *FileStore) Save(ctx context.Context, links Links) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity links: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write identity links: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.Path, err)
	}
	return nil
}

// RedisStore keeps the table as a single JSON value in Redis.
type RedisStore struct {
	svc redis.RedisServiceInterface
	key string
}

func NewRedisStore(svc redis.RedisServiceInterface) *RedisStore {
	return &RedisStore{svc: svc, key: svc.GenerateKey(redis.IDENTITY_LINKS, "links")}
}

func (s *RedisStore) Load(ctx context.Context) (Links, error) {
	raw, err := s.svc.GetValue(ctx, s.key)
	if redis.IsNotExist(err) {
		return Links{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity links from redis: %w", err)
	}
	return ParseLinks([]byte(raw))
}

func (s *RedisStore) Save(ctx context.Context, links Links) error {
	data, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("failed to encode identity links: %w", err)
	}
	if err := s.svc.SetValue(ctx, s.key, string(data), 0); err != nil {
		return fmt.Errorf("failed to write identity links to redis: %w", err)
	}
	return nil
}

// MemoryStore keeps the table in process memory only.
type MemoryStore struct {
	mu    sync.Mutex
	links Links
	saves int
}

func NewMemoryStore(initial Links) *MemoryStore {
	if initial == nil {
		initial = Links{}
	}
	return &MemoryStore{links: initial.Clone()}
}

func (s *MemoryStore) Load(ctx context.Context) (Links, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, links Links) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = links.Clone()
	s.saves++
	return nil
}

// Saves returns how many writes the store has accepted.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
