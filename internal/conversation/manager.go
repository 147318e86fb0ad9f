package conversation

import (
	"context"
	"fmt"
	"sync"

	"eagle-task/internal/shared/model"
	"eagle-task/pkg/logging"
)

// PreambleBuilder 生成会话的 system 前言，只在会话首次初始化时调用
type PreambleBuilder func(ctx context.Context) (string, error)

// StaticPreamble 返回固定文本的 PreambleBuilder
func StaticPreamble(text string) PreambleBuilder {
	return func(context.Context) (string, error) { return text, nil }
}

// Completer 对话补全（由 assistant.Gateway 实现）
type Completer interface {
	Complete(ctx context.Context, turns []model.Turn) (string, error)
}

// Manager 会话上下文管理器
type Manager struct {
	store   Store
	locks   *keyedMutex
	log     *logging.Logger
	created func(Kind)
}

// Option Manager 可选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithCreatedHook 会话创建回调（用于指标）
func WithCreatedHook(fn func(Kind)) Option {
	return func(m *Manager) { m.created = fn }
}

// NewManager 创建会话管理器
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		locks: newKeyedMutex(),
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureInitialized 会话不存在时用 build 生成前言并创建；已存在时不调用 build
//
// build 失败时不写入任何状态。
func (m *Manager) EnsureInitialized(ctx context.Context, key Key, build PreambleBuilder) error {
	unlock := m.locks.Lock(key)
	defer unlock()
	return m.ensureInitialized(ctx, key, build)
}

func (m *Manager) ensureInitialized(ctx context.Context, key Key, build PreambleBuilder) error {
	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	preamble, err := build(ctx)
	if err != nil {
		return err
	}

	created, err := m.store.Create(ctx, key, model.SystemTurn(preamble))
	if err != nil {
		return err
	}
	if created {
		if m.created != nil {
			m.created(key.Kind)
		}
		m.log.WithContext(ctx).Debug().Str("conversation", key.String()).Int("preamble_len", len(preamble)).Msg("conversation initialized")
	}
	return nil
}

// AppendUserTurn 追加 user 记录
func (m *Manager) AppendUserTurn(ctx context.Context, key Key, content string) error {
	unlock := m.locks.Lock(key)
	defer unlock()
	return m.store.Append(ctx, key, model.UserTurn(content))
}

// AppendAssistantTurn 追加 assistant 记录
func (m *Manager) AppendAssistantTurn(ctx context.Context, key Key, content string) error {
	unlock := m.locks.Lock(key)
	defer unlock()
	return m.store.Append(ctx, key, model.AssistantTurn(content))
}

// Snapshot 返回会话记录的有序副本
func (m *Manager) Snapshot(ctx context.Context, key Key) ([]model.Turn, error) {
	return m.store.Turns(ctx, key)
}

// Exchange 完成一轮对话：初始化 → 追加 user → 补全 → 追加 assistant
//
// 整轮持有 key 的锁，同一会话的记录顺序与请求到达顺序一致。
// prompt 为空时不追加 user 记录。补全失败时已追加的 user 记录保留。
func (m *Manager) Exchange(ctx context.Context, key Key, build PreambleBuilder, prompt string, completer Completer) (string, error) {
	unlock := m.locks.Lock(key)
	defer unlock()

	if err := m.ensureInitialized(ctx, key, build); err != nil {
		return "", err
	}
	if prompt != "" {
		if err := m.store.Append(ctx, key, model.UserTurn(prompt)); err != nil {
			return "", fmt.Errorf("append user turn: %w", err)
		}
	}

	turns, err := m.store.Turns(ctx, key)
	if err != nil {
		return "", err
	}

	reply, err := completer.Complete(ctx, turns)
	if err != nil {
		return "", err
	}

	if err := m.store.Append(ctx, key, model.AssistantTurn(reply)); err != nil {
		return "", fmt.Errorf("append assistant turn: %w", err)
	}
	return reply, nil
}

// keyedMutex 按 key 分配的互斥锁，空闲后释放
type keyedMutex struct {
	mu    sync.Mutex
	locks map[Key]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[Key]*refMutex)}
}

// Lock 获取 key 的锁，返回解锁函数
func (k *keyedMutex) Lock(key Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
