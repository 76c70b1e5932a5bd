package tokenizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatservice/internal/domain"
)

func TestEstimatorDeterministic(t *testing.T) {
	e := &Estimator{Model: "gpt-4"}

	first := e.Encode("Hello, world! This is a test.")
	second := e.Encode("Hello, world! This is a test.")
	assert.Equal(t, first, second)
	assert.Equal(t, len(first), e.Count("Hello, world! This is a test."))
}

func TestEstimatorSplitting(t *testing.T) {
	e := &Estimator{CharsPerToken: 4}

	tests := []struct {
		text   string
		tokens int
	}{
		{"", 0},
		{"hi", 1},
		{"hi there", 2},
		{"hello, world", 5}, // hell + o + , + worl + d
		{"a.b", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.tokens, e.Count(tt.text), tt.text)
	}
}

func TestEstimatorLongerTextMoreTokens(t *testing.T) {
	e := &Estimator{CharsPerToken: 4}
	short := e.Count("a short sentence")
	long := e.Count("a considerably longer sentence with many more words in it than before")
	assert.Greater(t, long, short)
}

func TestForModelFamilies(t *testing.T) {
	chat := ForModel("gpt-3.5-turbo")
	llama := ForModel("wizard-vicuna-13b")

	text := "The quick brown fox jumps over the lazy dog"
	// llama 折算比例更小，同一文本 token 更多
	assert.GreaterOrEqual(t, llama.Count(text), chat.Count(text))
}

func TestLazyLoadsOnFirstUse(t *testing.T) {
	loaded := false
	lz := NewLazy("test", func() domain.Tokenizer {
		loaded = true
		return &Estimator{CharsPerToken: 4}
	})
	require.False(t, loaded)

	assert.Equal(t, 1, lz.Count("word"))
	assert.True(t, loaded)
}

func TestLazyPreload(t *testing.T) {
	loads := 0
	lz := NewLazy("test", func() domain.Tokenizer {
		loads++
		return &Estimator{CharsPerToken: 4}
	})

	// 同步执行提交的初始化函数，模拟工作池
	submit := func(_ context.Context, fn func()) error {
		fn()
		return nil
	}
	require.NoError(t, lz.Preload(context.Background(), submit))
	assert.Equal(t, 1, loads)

	// 预热后使用不再触发加载
	lz.Count("word")
	assert.Equal(t, 1, loads)
}
