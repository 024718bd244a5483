// Package textutil 提供 RAG 相关的文本处理工具函数。
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"
)

// CharsPerToken 是估算 token 时使用的字符/token 比例。
const CharsPerToken = 4

// EstimateTokens 以每 4 个字符约 1 个 token 估算，不是精确分词。
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / CharsPerToken
}

// RuneLen 返回 Unicode 字符数。
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Tail 返回 s 末尾最多 n 个 Unicode 字符。
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// Preview 超过 maxLen 时截断并追加 "..."。
func Preview(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return TruncateString(s, maxLen) + "..."
}

// IsBlank 判断字符串是否为空或仅包含空白。
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，长度不一致或零向量返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HashKey 用 \x00 连接各部分后取 sha256 十六进制串。
func HashKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}
