package domain

import (
	"fmt"
	"sync"
)

// Tokenizer 分词器契约：确定性 token 计数与编码
type Tokenizer interface {
	// Count 返回文本的 token 数
	Count(text string) int

	// Encode 返回文本的 token id 序列
	Encode(text string) []int
}

// BackendKind 模型后端类型
type BackendKind string

const (
	BackendRemoteAPI BackendKind = "remote_api" // 远程流式 API
	BackendLocal     BackendKind = "local"      // 本地推理
)

// ModelDescriptor 模型描述符。注册后只读，所有会话共享同一引用。
type ModelDescriptor struct {
	Name                string
	MaxTotalTokens      int // 上下文窗口
	MaxTokensPerRequest int // 单次请求 token 上限
	TokenMargin         int // 安全余量
	Tokenizer           Tokenizer
	Backend             BackendKind

	// 远程后端配置
	Endpoint string
	APIKey   string

	// 本地后端配置
	ModelPath   string
	Description string // 对话前置提示（仅本地模型使用）
}

// ModelRegistry 模型注册表。启动时构建一次，之后只读。
type ModelRegistry struct {
	models map[string]*ModelDescriptor
	mu     sync.RWMutex
}

// NewModelRegistry 创建模型注册表
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelDescriptor),
	}
}

// Register 注册模型。重名返回错误。
func (r *ModelRegistry) Register(m *ModelDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Name == "" {
		return fmt.Errorf("model name is empty")
	}
	if _, ok := r.models[m.Name]; ok {
		return fmt.Errorf("model %s already registered", m.Name)
	}
	r.models[m.Name] = m
	return nil
}

// FindByName 按名称查找模型
func (r *ModelRegistry) FindByName(name string) (*ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return m, nil
}

// Names 返回所有已注册模型名
func (r *ModelRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}
