package biz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

func citationSources() []store.ScoredChunk {
	a := scored("chunk-a", 0.856, strings.Repeat("a", 250))
	a.Metadata = map[string]string{
		model.MetaEmailID:      "mail-1",
		model.MetaEmailSubject: "Quote",
	}
	b := scored("chunk-b", 0.5, "short content")
	b.Metadata = map[string]string{
		model.MetaAttachmentID:       "att-1",
		model.MetaAttachmentFilename: "price list.pdf",
	}
	return []store.ScoredChunk{a, b}
}

func TestInlineRewritesByRank(t *testing.T) {
	f := NewCitationFormatter("https://dash.example.com/")
	out := f.Inline("See [Source 2] and [Source 1], not [Source 3].", citationSources())
	assert.Equal(t, "See [2] and [1], not [Source 3].", out)
}

func TestPlainFormat(t *testing.T) {
	f := NewCitationFormatter("")
	out := f.Plain("Answer [Source 1].", citationSources())
	assert.Equal(t, "Answer [1].\n\n\nSources:\n[1] Email: Quote | Relevance: 85.6%\n[2] Attachment: price list.pdf | Relevance: 50.0%\n", out)
}

func TestHTMLFormat(t *testing.T) {
	f := NewCitationFormatter("https://dash.example.com")
	out := f.HTML("A <b> [Source 1] [Source 2]", citationSources(), "app1")

	assert.True(t, strings.HasPrefix(out, `<div class="query-response"><div class="answer">A &lt;b&gt; `))
	assert.Contains(t, out, `<a href="https://dash.example.com/documents?app_id=app1&amp;chunk_id=chunk-a" class="citation-link">[1]</a>`)
	assert.Contains(t, out, `<a href="https://dash.example.com/documents?app_id=app1&amp;chunk_id=chunk-b" class="citation-link">[2]</a>`)
	assert.Contains(t, out, "<ol class='sources-list'><li><strong>[1]</strong> Email: Quote | Relevance: 85.6%</li>")
	assert.True(t, strings.HasSuffix(out, "</ol></div></div>"))

	noLinks := NewCitationFormatter("").HTML("[Source 1]", citationSources(), "app1")
	assert.Contains(t, noLinks, `<span class="citation">[1]</span>`)
}

func TestHTMLEscapesLinkAttribute(t *testing.T) {
	f := NewCitationFormatter(`https://dash.example.com/"><script>x</script>`)
	out := f.HTML("[Source 1]", citationSources(), "app1")

	assert.NotContains(t, out, `"><script>`)
	assert.Contains(t, out, `href="https://dash.example.com/&#34;&gt;&lt;script&gt;x&lt;/script&gt;/documents?app_id=app1&amp;chunk_id=chunk-a"`)
}

func TestNumberingConsistentAcrossFormats(t *testing.T) {
	f := NewCitationFormatter("https://dash.example.com")
	sources := citationSources()
	answer := "Price in [Source 2]; subject in [Source 1]."

	plain := f.Format(answer, sources, FormatPlain, "app1")
	htmlOut := f.Format(answer, sources, FormatHTML, "app1")
	text := f.Format(answer, sources, FormatText, "app1")
	refs := f.BuildSourceList(sources, "app1")

	assert.Equal(t, []int{1, 2}, ExtractCitations(text))
	assert.Contains(t, plain, "[2] Attachment: price list.pdf")
	assert.Contains(t, htmlOut, "chunk_id=chunk-b\" class=\"citation-link\">[2]</a>")
	require.Len(t, refs, 2)
	assert.Equal(t, 2, refs[1].CitationNumber)
	assert.Equal(t, "chunk-b", refs[1].ChunkID)

	// 重复调用结果不变
	assert.Equal(t, htmlOut, f.Format(answer, sources, FormatHTML, "app1"))
}

func TestBuildSourceList(t *testing.T) {
	f := NewCitationFormatter("https://dash.example.com")
	refs := f.BuildSourceList(citationSources(), "app 1")
	require.Len(t, refs, 2)

	a := refs[0]
	assert.Equal(t, 1, a.CitationNumber)
	assert.Equal(t, "mail-1", a.EmailID)
	assert.Equal(t, "Quote", a.EmailSubject)
	assert.Equal(t, strings.Repeat("a", 200)+"...", a.ContentPreview)
	assert.Equal(t, "https://dash.example.com/documents?app_id=app+1&chunk_id=chunk-a", a.Links["dashboard"])
	assert.Equal(t, "https://dash.example.com/documents/email?app_id=app+1&email_id=mail-1", a.Links["email"])
	assert.NotContains(t, a.Links, "attachment")

	b := refs[1]
	assert.Equal(t, "short content", b.ContentPreview)
	assert.Equal(t, "https://dash.example.com/documents/attachment?app_id=app+1&attachment_id=att-1", b.Links["attachment"])

	links := SourceLinks(refs)
	assert.Len(t, links, 2)
	assert.Equal(t, a.Links, links["1"])

	assert.Nil(t, NewCitationFormatter("").BuildSourceList(citationSources(), "app")[0].Links)
}

func TestDescribeFallback(t *testing.T) {
	assert.Equal(t, "Source", Describe(store.ScoredChunk{}))
}

func TestExtractCitations(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, ExtractCitations("[3] then [1], again [3] and [2]"))
	assert.Empty(t, ExtractCitations("no citations"))
}
