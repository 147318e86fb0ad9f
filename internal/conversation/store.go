package conversation

import (
	"context"
	"errors"
	"sync"

	"eagle-task/internal/shared/model"
)

// ErrUninitialized 会话尚未初始化（没有 system 前言）
var ErrUninitialized = errors.New("conversation: not initialized")

// Store 会话存储接口
type Store interface {
	// Create 当 key 不存在时以 system 记录创建会话；已存在时返回 false 且不修改
	Create(ctx context.Context, key Key, system model.Turn) (bool, error)
	// Append 追加一条记录；会话不存在时返回 ErrUninitialized
	Append(ctx context.Context, key Key, turn model.Turn) error
	// Turns 返回会话记录副本；会话不存在时返回 ErrUninitialized
	Turns(ctx context.Context, key Key) ([]model.Turn, error)
	Exists(ctx context.Context, key Key) (bool, error)
	Close() error
}

// MemoryStore 进程内会话存储，生命周期与进程一致
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[Key][]model.Turn
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[Key][]model.Turn)}
}

func (s *MemoryStore) Create(_ context.Context, key Key, system model.Turn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[key]; ok {
		return false, nil
	}
	s.conversations[key] = []model.Turn{system}
	return true, nil
}

func (s *MemoryStore) Append(_ context.Context, key Key, turn model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.conversations[key]
	if !ok {
		return ErrUninitialized
	}
	s.conversations[key] = append(turns, turn)
	return nil
}

func (s *MemoryStore) Turns(_ context.Context, key Key) ([]model.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns, ok := s.conversations[key]
	if !ok {
		return nil, ErrUninitialized
	}
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, key Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[key]
	return ok, nil
}

func (s *MemoryStore) Close() error { return nil }
