package metadata

import (
	"context"
	"errors"
	"sync"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryStore 进程内存储，cid 为内容的 keccak256
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	cid := crypto.Keccak256Hash(data).Hex()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[cid] = append([]byte(nil), data...)
	return cid, nil
}

func (s *MemoryStore) Get(_ context.Context, cid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[cid]
	if !ok {
		return nil, escrow.Unavailable(errors.New("not found"), "metadata %s unavailable", cid)
	}
	return append([]byte(nil), data...), nil
}
