package tokenizer

import (
	"context"
	"strings"
	"sync"

	"chatservice/internal/domain"
)

// ForModel 按模型家族返回对应的分词器。
// llama 系模型词表更细，折算比例取 3；其余按 4。
func ForModel(name string) domain.Tokenizer {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "llama") || strings.Contains(lower, "vicuna") || strings.Contains(lower, "wizard") {
		return NewLazy(name, func() domain.Tokenizer {
			return &Estimator{Model: name, CharsPerToken: 3}
		})
	}
	return &Estimator{Model: name, CharsPerToken: 4}
}

// Lazy 延迟初始化的分词器。本地模型家族的词表构建开销大，首次使用时
// 才初始化；Preload 可以把初始化交给工作池，避免阻塞协作调度。
type Lazy struct {
	name string
	once sync.Once
	load func() domain.Tokenizer

	inner domain.Tokenizer
}

// NewLazy 创建延迟初始化分词器
func NewLazy(name string, load func() domain.Tokenizer) *Lazy {
	return &Lazy{name: name, load: load}
}

func (t *Lazy) ensure() {
	t.once.Do(func() {
		t.inner = t.load()
	})
}

// Preload 在工作池上提前完成初始化
func (t *Lazy) Preload(ctx context.Context, submit func(context.Context, func()) error) error {
	return submit(ctx, t.ensure)
}

// Count 返回文本的 token 数
func (t *Lazy) Count(text string) int {
	t.ensure()
	return t.inner.Count(text)
}

// Encode 返回文本的 token id 序列
func (t *Lazy) Encode(text string) []int {
	t.ensure()
	return t.inner.Encode(text)
}
