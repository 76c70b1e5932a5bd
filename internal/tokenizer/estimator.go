// Package tokenizer 提供确定性的 token 计数与编码实现。
//
// 估算器按模型家族折算字符数，结果确定且无外部依赖。分词精度足以驱动
// 预算淘汰与生成长度控制，不用于计费。
package tokenizer

import (
	"hash/fnv"
	"unicode"
)

// Estimator 基于字符折算的分词估算器
type Estimator struct {
	Model string

	// CharsPerToken 每个 token 折算的字符数，0 时取 4
	CharsPerToken int
}

func (e *Estimator) ratio() int {
	if e.CharsPerToken <= 0 {
		return 4
	}
	return e.CharsPerToken
}

// Count 返回文本的 token 数
func (e *Estimator) Count(text string) int {
	return len(e.Encode(text))
}

// Encode 把文本切成 token 片段并映射为稳定的整数 id。
// 切分规则：空白与标点单独成段，连续字面量按 CharsPerToken 截断。
func (e *Estimator) Encode(text string) []int {
	pieces := e.split(text)
	ids := make([]int, len(pieces))
	for i, p := range pieces {
		ids[i] = pieceID(p)
	}
	return ids
}

func (e *Estimator) split(text string) []string {
	var pieces []string
	runes := []rune(text)
	ratio := e.ratio()

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		// 过长的字面量按折算比例截断
		for i := start; i < end; i += ratio {
			j := i + ratio
			if j > end {
				j = end
			}
			pieces = append(pieces, string(runes[i:j]))
		}
		start = -1
	}

	for i, r := range runes {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush(i)
			pieces = append(pieces, string(r))
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(runes))
	return pieces
}

func pieceID(piece string) int {
	h := fnv.New32a()
	h.Write([]byte(piece))
	return int(h.Sum32() & 0x7fffffff)
}
