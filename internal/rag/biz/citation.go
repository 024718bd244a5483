package biz

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

// OutputFormat 回答的渲染格式。
type OutputFormat string

const (
	FormatText  OutputFormat = "text"
	FormatHTML  OutputFormat = "html"
	FormatPlain OutputFormat = "plain"
)

// PreviewLength 来源预览的最大字符数。
const PreviewLength = 200

var (
	sourceMarker   = regexp.MustCompile(`\[Source (\d+)\]`)
	citationMarker = regexp.MustCompile(`\[(\d+)\]`)
)

// SourceRef 是一条带编号的来源。
type SourceRef struct {
	CitationNumber     int               `json:"citation_number"`
	ChunkID            string            `json:"chunk_id"`
	DocumentID         string            `json:"document_id,omitempty"`
	EmailID            string            `json:"email_id,omitempty"`
	EmailSubject       string            `json:"email_subject,omitempty"`
	AttachmentID       string            `json:"attachment_id,omitempty"`
	AttachmentFilename string            `json:"attachment_filename,omitempty"`
	Similarity         float64           `json:"similarity"`
	ContentPreview     string            `json:"content_preview"`
	Links              map[string]string `json:"links,omitempty"`
}

// CitationFormatter 把 "[Source N]" 标记映射为引用编号并渲染，没有副作用。
type CitationFormatter struct {
	baseURL string
}

// NewCitationFormatter creates a formatter. baseURL is the dashboard root
// used for links; empty disables links.
func NewCitationFormatter(baseURL string) *CitationFormatter {
	return &CitationFormatter{baseURL: strings.TrimRight(baseURL, "/")}
}

// Inline 把 "[Source N]" 改写为 "[N]"，N 超出来源范围的标记保持不变。
func (f *CitationFormatter) Inline(answer string, sources []store.ScoredChunk) string {
	return sourceMarker.ReplaceAllStringFunc(answer, func(m string) string {
		n, ok := markerNumber(sourceMarker, m, len(sources))
		if !ok {
			return m
		}
		return "[" + strconv.Itoa(n) + "]"
	})
}

// Format 按 kind 渲染回答，三种格式的编号一致。
func (f *CitationFormatter) Format(answer string, sources []store.ScoredChunk, kind OutputFormat, appID string) string {
	switch kind {
	case FormatHTML:
		return f.HTML(answer, sources, appID)
	case FormatPlain:
		return f.Plain(answer, sources)
	default:
		return f.Inline(answer, sources)
	}
}

// HTML 渲染带引用链接的 HTML。有 baseURL 和 appID 时 [N] 为链接，否则为 span。
func (f *CitationFormatter) HTML(answer string, sources []store.ScoredChunk, appID string) string {
	body := html.EscapeString(f.Inline(answer, sources))
	body = citationMarker.ReplaceAllStringFunc(body, func(m string) string {
		n, ok := markerNumber(citationMarker, m, len(sources))
		if !ok {
			return m
		}
		src := sources[n-1]
		if f.baseURL != "" && appID != "" && src.ChunkID != "" {
			link := f.link("/documents", "app_id", appID, "chunk_id", src.ChunkID)
			return fmt.Sprintf(`<a href="%s" class="citation-link">[%d]</a>`, html.EscapeString(link), n)
		}
		return fmt.Sprintf(`<span class="citation">[%d]</span>`, n)
	})

	var list strings.Builder
	list.WriteString("<ol class='sources-list'>")
	for i, s := range sources {
		fmt.Fprintf(&list, "<li><strong>[%d]</strong> %s</li>", i+1, html.EscapeString(Describe(s)))
	}
	list.WriteString("</ol>")

	return `<div class="query-response"><div class="answer">` + body +
		`</div><div class="sources"><h3>Sources</h3>` + list.String() + `</div></div>`
}

// Plain 渲染纯文本回答，末尾附来源列表。
func (f *CitationFormatter) Plain(answer string, sources []store.ScoredChunk) string {
	var sb strings.Builder
	sb.WriteString(f.Inline(answer, sources))
	sb.WriteString("\n\n\nSources:\n")
	for i, s := range sources {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, Describe(s))
	}
	return sb.String()
}

// BuildSourceList 生成结构化来源列表，编号与渲染结果一致。
func (f *CitationFormatter) BuildSourceList(sources []store.ScoredChunk, appID string) []SourceRef {
	refs := make([]SourceRef, len(sources))
	for i, s := range sources {
		ref := SourceRef{
			CitationNumber:     i + 1,
			ChunkID:            s.ChunkID,
			DocumentID:         s.DocumentID,
			EmailID:            s.Metadata[model.MetaEmailID],
			EmailSubject:       s.Metadata[model.MetaEmailSubject],
			AttachmentID:       s.Metadata[model.MetaAttachmentID],
			AttachmentFilename: s.Metadata[model.MetaAttachmentFilename],
			Similarity:         s.Similarity,
			ContentPreview:     textutil.Preview(s.Content, PreviewLength),
		}

		if f.baseURL != "" {
			links := make(map[string]string, 3)
			if appID != "" && ref.ChunkID != "" {
				links["dashboard"] = f.link("/documents", "app_id", appID, "chunk_id", ref.ChunkID)
			}
			if appID != "" && ref.EmailID != "" {
				links["email"] = f.link("/documents/email", "app_id", appID, "email_id", ref.EmailID)
			}
			if appID != "" && ref.AttachmentID != "" {
				links["attachment"] = f.link("/documents/attachment", "app_id", appID, "attachment_id", ref.AttachmentID)
			}
			ref.Links = links
		}
		refs[i] = ref
	}
	return refs
}

// SourceLinks 按引用编号索引链接，用于响应元数据。
func SourceLinks(refs []SourceRef) map[string]map[string]string {
	out := make(map[string]map[string]string, len(refs))
	for _, r := range refs {
		if r.CitationNumber > 0 && r.Links != nil {
			out[strconv.Itoa(r.CitationNumber)] = r.Links
		}
	}
	return out
}

// Describe 根据元数据生成来源简述，例如 "Email: 报价 | Relevance: 85.6%"。
func Describe(s store.ScoredChunk) string {
	var parts []string
	if subj := s.Metadata[model.MetaEmailSubject]; subj != "" {
		parts = append(parts, "Email: "+subj)
	}
	if file := s.Metadata[model.MetaAttachmentFilename]; file != "" {
		parts = append(parts, "Attachment: "+file)
	}
	if s.Similarity > 0 {
		parts = append(parts, fmt.Sprintf("Relevance: %.1f%%", s.Similarity*100))
	}
	if len(parts) == 0 {
		return "Source"
	}
	return strings.Join(parts, " | ")
}

// ExtractCitations 返回回答中出现的 [N] 编号，升序去重。
func ExtractCitations(answer string) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (f *CitationFormatter) link(path string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return f.baseURL + path + "?" + q.Encode()
}

func markerNumber(re *regexp.Regexp, marker string, n int) (int, bool) {
	m := re.FindStringSubmatch(marker)
	if len(m) < 2 {
		return 0, false
	}
	num, err := strconv.Atoi(m[1])
	if err != nil || num < 1 || num > n {
		return 0, false
	}
	return num, true
}
