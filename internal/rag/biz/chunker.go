package biz

import (
	"regexp"
	"strings"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
)

// sentenceDelim 句号、感叹号、问号后接空白视为句子边界。
var sentenceDelim = regexp.MustCompile(`[.!?]\s+`)

// ChunkPiece 是分块结果，Index 从 0 开始连续递增。
type ChunkPiece struct {
	Content    string `json:"content"`
	Index      int    `json:"index"`
	TokenCount int    `json:"token_count"`
	CharCount  int    `json:"char_count"`
}

// Chunker 按估算 token 数切分文本。
type Chunker struct {
	size               int
	overlap            int
	preserveSentences  bool
	preserveParagraphs bool
}

// NewChunker creates a chunker from the chunking options.
func NewChunker(opts *ragopts.ChunkingOptions) *Chunker {
	if opts == nil {
		opts = ragopts.NewOptions().Chunking
	}
	return &Chunker{
		size:               opts.ChunkSize,
		overlap:            opts.ChunkOverlap,
		preserveSentences:  opts.PreserveSentences,
		preserveParagraphs: opts.PreserveParagraphs,
	}
}

// Chunk 切分 text。
//
// 单元（句子或整段）以 "\n\n" 连接累加，连接后超过 size 时关闭当前分块，
// 新分块以上一分块末尾 overlap*4 个字符开头。超过 size 的单个单元整块输出，不做截断。
func (c *Chunker) Chunk(text string) []ChunkPiece {
	if textutil.IsBlank(text) {
		return nil
	}

	paragraphs := []string{text}
	if c.preserveParagraphs {
		paragraphs = strings.Split(text, "\n\n")
	}

	var (
		chunks  []ChunkPiece
		current string
	)
	emit := func(s string) {
		chunks = append(chunks, ChunkPiece{
			Content:    strings.TrimSpace(s),
			Index:      len(chunks),
			TokenCount: textutil.EstimateTokens(s),
			CharCount:  textutil.RuneLen(s),
		})
	}

	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		for _, unit := range c.units(paragraph) {
			unit = strings.TrimSpace(unit)
			if unit == "" {
				continue
			}

			if current == "" {
				current = unit
				continue
			}

			joined := current + "\n\n" + unit
			if textutil.EstimateTokens(joined) <= c.size {
				current = joined
				continue
			}

			emit(current)
			current = unit
			if c.overlap > 0 {
				last := chunks[len(chunks)-1].Content
				seeded := textutil.Tail(last, c.overlap*textutil.CharsPerToken) + "\n\n" + unit
				// 重叠前缀会让分块超限时只保留单元本身
				if textutil.EstimateTokens(seeded) <= c.size {
					current = seeded
				}
			}
		}
	}

	if !textutil.IsBlank(current) {
		emit(current)
	}
	return chunks
}

// units 拆分句子，分隔符保留在句末。
func (c *Chunker) units(paragraph string) []string {
	if !c.preserveSentences {
		return []string{paragraph}
	}

	var out []string
	start := 0
	for _, loc := range sentenceDelim.FindAllStringIndex(paragraph, -1) {
		out = append(out, paragraph[start:loc[1]])
		start = loc[1]
	}
	if start < len(paragraph) {
		out = append(out, paragraph[start:])
	}
	return out
}
