// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/litreview-engine/internal/logger"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

const (
	defaultTopN            = 5
	defaultProfileParallel = 5
	profileMaxChars        = 40000
)

var profileTmpl = template.Must(template.New("profile").Parse(`你是一位负责撰写顶级综述文章的资深学术编辑。下面是 {{.Count}} 篇属于同一聚类的学术论文内容，分为 main（正文细节）、summary（摘要概括）、map（定位图谱）、lineage（发展脉络）四个部分。

# 任务书

按照各部分的权重分配关注度，总结这组文章的共性特征，即大部分文章都具备的特征。依次审查领域及子领域、研究流派、结论贡献与研究目的、技术与方法论、应用或理论取向这些方面是否存在共性；存在则用一两个短语描述，不存在则不要强行关联。其他专业视角下的共性（例如高频词）也可以列出。
共性特征用于辅助组织文献综述，必须直观、真实，并从明确的学术角度切入。

## 章节权重

{{range .Weights}}- {{.View}} 章节（权重 {{.Weight}}）：重要程度{{.Importance}}
{{end}}
## 输出格式

输出约 10-20 个短语或简短描述句，用分号分隔，不要任何解释。

# 待阅读内容

{{.Context}}
`))

var contrastTmpl = template.Must(template.New("contrast").Parse(`你是一篇大规模文献综述的架构总编。文献已经被聚类为若干子主题（label），各板块编辑提交了每个 label 的初步特征画像。请横向对比所有 label，消除冗余，弱化共性，强化差异，定稿为层次分明、互斥互补、适合作为综述章节组织依据的描述。

# 任务书

1. 必须把所有 label 放在一起审视。若多个 label 的画像出现同一关键词，说明描述不够精准，应改写为带限定修饰的流派或场景描述；不可捏造或偏移原有描述的范围。
2. evaluation：分析各 label 描述的重叠与侧重，说明如何适度强调差异，使综述更有逻辑性与完整性。
3. results：每个 label 输出 5 个左右兼具概括性与精确性的描述短语，体现 evaluation 的结论。拒绝碎片化名词堆砌，也不要泛泛而谈（例如“经济研究”“技术优化”）。

## 输出格式

只输出 JSON，不要任何 Markdown 标记：
{"evaluation": "...", "results": {"0": ["描述1", "描述2"], "1": ["..."]}}

# 各板块编辑提交的初步画像

{{.Profiles}}
`))

// KeywordRequest is the input of one keyword extraction.
type KeywordRequest struct {
	// Labels maps document titles to category labels. Noise and anchor
	// titles are ignored.
	Labels map[string]int
	// Docs supplies the section texts of every titled document.
	Docs map[string]types.Document
	// Weights sets the attention given to each view in the profile prompt.
	Weights types.Weights
	// TopN caps the keywords kept per label (default 5).
	TopN int
}

// KeywordGenerator describes categories in two passes: an independent
// profile per label, then one global call that contrasts the profiles.
type KeywordGenerator struct {
	Client     Client
	MaxRetries int
	// Parallel caps concurrent profile calls (default 5).
	Parallel int
	Log      *logger.Logger
}

type weightLine struct {
	View       string
	Weight     float64
	Importance string
}

// importance maps a view weight to the wording used in the profile prompt.
func importance(w float64) string {
	switch {
	case w >= 0.5:
		return "极高"
	case w >= 0.3:
		return "较高"
	}
	return "一般"
}

// Generate returns keywords per label and the model's evaluation of the
// partition. Profile failures are tolerated; the call fails only when no
// keywords could be produced at all.
func (g *KeywordGenerator) Generate(ctx context.Context, req KeywordRequest) (map[int][]string, string, error) {
	log := logger.OrNop(g.Log)
	topN := req.TopN
	if topN <= 0 {
		topN = defaultTopN
	}

	labels := categoryLabels(req.Labels)
	if len(labels) == 0 {
		return map[int][]string{}, "", nil
	}

	profiles, err := g.profiles(ctx, req, labels)
	if err != nil {
		return nil, "", err
	}

	keywords, evaluation, err := g.contrast(ctx, profiles)
	if err == nil {
		for l, kws := range keywords {
			if len(kws) > topN {
				keywords[l] = kws[:topN]
			}
		}
		return keywords, evaluation, nil
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}
	log.Warn("keyword contrast failed, using profiles", "error", err)

	keywords = make(map[int][]string)
	for _, l := range labels {
		if p := profiles[l]; p != "" {
			keywords[l] = SplitProfile(p, topN)
		}
	}
	if len(keywords) == 0 {
		return nil, "", fmt.Errorf("no keyword profiles: %w", err)
	}
	return keywords, "", nil
}

func categoryLabels(m map[string]int) []int {
	seen := make(map[int]bool)
	var out []int
	for title, l := range m {
		if l == types.NoiseLabel || types.IsAnchorTitle(title) || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// profiles runs one profile call per label, at most Parallel at a time.
// A failed label gets an empty profile.
func (g *KeywordGenerator) profiles(ctx context.Context, req KeywordRequest, labels []int) (map[int]string, error) {
	log := logger.OrNop(g.Log)
	parallel := g.Parallel
	if parallel <= 0 {
		parallel = defaultProfileParallel
	}

	var mu sync.Mutex
	out := make(map[int]string, len(labels))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for _, l := range labels {
		l := l
		eg.Go(func() error {
			prompt, err := renderProfilePrompt(req, l)
			if err != nil {
				return fmt.Errorf("rendering profile prompt: %w", err)
			}
			reply, err := CallWithRetry(egCtx, g.Client, prompt, g.MaxRetries)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				log.Warn("keyword profile failed", "label", l, "error", err)
				reply = ""
			}
			mu.Lock()
			out[l] = strings.TrimSpace(reply)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func renderProfilePrompt(req KeywordRequest, label int) (string, error) {
	titles := make([]string, 0)
	for t, l := range req.Labels {
		if l == label && !types.IsAnchorTitle(t) {
			titles = append(titles, t)
		}
	}
	sort.Strings(titles)

	var ctxBuf strings.Builder
	var lines []weightLine
	for _, v := range types.Views {
		w := req.Weights.For(v)
		lines = append(lines, weightLine{View: string(v), Weight: w, Importance: importance(w)})

		var texts []string
		for _, t := range titles {
			if txt := strings.TrimSpace(req.Docs[t].Text(v)); txt != "" {
				texts = append(texts, txt)
			}
		}
		if len(texts) == 0 {
			continue
		}
		name := strings.ToUpper(string(v))
		fmt.Fprintf(&ctxBuf, "\n=== %s 开始（权重 %g，重要程度%s）===\n", name, w, importance(w))
		ctxBuf.WriteString(strings.Join(texts, "\n"))
		fmt.Fprintf(&ctxBuf, "\n=== %s 结束 ===\n", name)
	}

	var buf bytes.Buffer
	err := profileTmpl.Execute(&buf, struct {
		Count   int
		Weights []weightLine
		Context string
	}{len(titles), lines, truncateRunes(ctxBuf.String(), profileMaxChars)})
	return buf.String(), err
}

type contrastReply struct {
	Evaluation string              `json:"evaluation"`
	Results    map[string][]string `json:"results"`
}

func (g *KeywordGenerator) contrast(ctx context.Context, profiles map[int]string) (map[int][]string, string, error) {
	keyed := make(map[string]string, len(profiles))
	for l, p := range profiles {
		if p == "" {
			p = "无有效内容"
		}
		keyed[strconv.Itoa(l)] = p
	}
	data, err := json.MarshalIndent(keyed, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encoding profiles: %w", err)
	}

	var buf bytes.Buffer
	if err := contrastTmpl.Execute(&buf, struct{ Profiles string }{string(data)}); err != nil {
		return nil, "", fmt.Errorf("rendering contrast prompt: %w", err)
	}
	reply, err := CallWithRetry(ctx, g.Client, buf.String(), g.MaxRetries)
	if err != nil {
		return nil, "", err
	}
	return ParseKeywords(reply)
}

// ParseKeywords decodes a contrast reply. Result keys that are not integers
// are skipped.
func ParseKeywords(reply string) (map[int][]string, string, error) {
	var r contrastReply
	if err := json.Unmarshal([]byte(stripFences(reply)), &r); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make(map[int][]string, len(r.Results))
	for k, v := range r.Results {
		l, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			continue
		}
		out[l] = v
	}
	if len(out) == 0 {
		return nil, "", fmt.Errorf("%w: no results", ErrMalformed)
	}
	return out, r.Evaluation, nil
}

// SplitProfile turns a semicolon separated profile into at most n phrases.
// Both ASCII and full-width semicolons separate phrases.
func SplitProfile(profile string, n int) []string {
	var out []string
	for _, part := range strings.FieldsFunc(profile, func(r rune) bool { return r == ';' || r == '；' }) {
		part = strings.Trim(strings.TrimSpace(part), "'\",，")
		if part == "" {
			continue
		}
		out = append(out, part)
		if len(out) == n {
			break
		}
	}
	return out
}
