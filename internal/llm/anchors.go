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
	"text/template"
)

// anchorPrefix is trimmed from the start of every description.
const anchorPrefix = "该类"

var round1Tmpl = template.Must(template.New("round1").Parse(`你是一个负责文献综述架构的资深编辑，正在为一项最新研究撰写文献综述。下面是 {{.Count}} 篇文献的【文献定位】和【内容简述】。请阅读后提出这些文献的初步分类方案。

# 任务书

分类颗粒度大致对应一级学科下的二级学科，或同一领域下的具体方向，或某一学术视角下具有对比性的类别。划分为 2-4 类即可；文献较少时 2-3 类即可。
分类既要直观，体现每类文献最突出的定位特征；又要有逻辑性与互补性，便于组织综述章节。可以从研究流派、核心问题、理论与应用、聚焦侧重点等角度考虑。
每一类必须足够稠密，只有三两篇的文献不要单独成类，可以视为噪声或并入其他类。不需要覆盖全部文献。

## 正在撰写的研究

{{.PaperDescription}}

## 描述要求

每一类写一段详细的描述：该类文献的突出特点，可用于描述该类的学术受控词（专业名词、短语，中英文均可，越多越有区分度越好），以及匿名概括该类中部分文章研究了什么问题、采用了什么方法。
描述会被用于向量检索匹配文献，因此要包含该类的高频特征词，模仿该类文章的行文逻辑，同时避开其他类的独有特征词。

## 输出格式

只输出标准 JSON 对象，不要任何 Markdown 标记。键为数字索引（"0"、"1"、"2"…），值为描述文本，例如：
{"0": "该类文献主要聚焦于……", "1": "该类文献属于……流派……"}

# 文献整理内容

{{.Context}}
`))

var round2Tmpl = template.Must(template.New("round2").Parse(`你是一个专注于该细分领域的特邀学术编辑。{{.Count}} 篇文献已经被归入同一个父主题，请在父主题内部寻找分裂因子，将它们细分为 2-4 个子类，以梳理该方向的发展脉络与枝桠。

# 任务书

这些文献在宏观上已属同一类。不要复述父类别，也不要再用学科这样的大颗粒度划分；请关注同一目标下的不同路径、同一领域下的不同切面，例如核心观点、技术路线、应用场景、演进阶段、核心指标的取舍。
分类既要直观又要有逻辑性与互补性。每个子类必须足够稠密，只有三两篇的文献不要单独成类。不需要覆盖全部文献。

## 正在撰写的研究

{{.PaperDescription}}

## 父级背景

【{{.Parent}}】

## 描述要求

描述必须具体，不要使用“人工智能”“大数据”这类通用词。每个子类写一段详细描述：该类文献的突出特点，可用于描述该类的学术受控词（可多参考【文献脉络】），以及匿名概括部分文章研究了什么问题、采用了什么方法。
描述会被用于向量检索匹配文献，因此要包含该类的高频特征词，同时避开其他子类的独有特征词。

## 输出格式

只输出标准 JSON 对象，不要任何 Markdown 标记。键为数字索引（"0"、"1"、"2"…），值为描述文本，例如：
{"0": "该类文献专注于……", "1": "该类文献聚焦于……"}

# 文献整理内容

{{.Context}}
`))

// Request is the material for one anchor generation call.
type Request struct {
	// Round selects the prompt: 1 for top-level categories, 2 for the
	// sub-categories of one parent.
	Round int
	// Count is the number of documents the context describes.
	Count int
	// Context is the assembled document material.
	Context string
	// MaxChars truncates Context, in runes. Zero keeps it whole.
	MaxChars int
	// Parent is the parent category description (round 2 only).
	Parent           string
	PaperDescription string
}

// AnchorGenerator asks the model for a set of category descriptions.
type AnchorGenerator struct {
	Client     Client
	MaxRetries int
}

// Generate returns anchor descriptions keyed by label.
func (g *AnchorGenerator) Generate(ctx context.Context, req Request) (map[int]string, error) {
	prompt, err := renderAnchorPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("rendering anchor prompt: %w", err)
	}
	reply, err := CallWithRetry(ctx, g.Client, prompt, g.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("generating anchors: %w", err)
	}
	return ParseAnchors(reply)
}

func renderAnchorPrompt(req Request) (string, error) {
	tmpl := round1Tmpl
	switch req.Round {
	case 1:
	case 2:
		tmpl = round2Tmpl
	default:
		return "", fmt.Errorf("unknown round %d", req.Round)
	}
	desc := strings.TrimSpace(req.PaperDescription)
	if desc == "" {
		desc = "暂未提供"
	}
	data := req
	data.PaperDescription = desc
	data.Context = truncateRunes(req.Context, req.MaxChars)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseAnchors decodes a reply of the form {"0": "...", "1": "..."}.
// Code fences are ignored and the leading boilerplate of each description is
// trimmed.
func ParseAnchors(reply string) (map[int]string, error) {
	var raw map[string]string
	if err := json.Unmarshal([]byte(stripFences(reply)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no anchors", ErrMalformed)
	}

	out := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("%w: key %q is not an integer", ErrMalformed, k)
		}
		if id < 0 {
			return nil, fmt.Errorf("%w: key %q is negative", ErrMalformed, k)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("%w: key %d appears twice", ErrMalformed, id)
		}
		out[id] = strings.TrimLeft(v, anchorPrefix)
	}
	return out, nil
}

// SortedLabels returns the keys of an anchor set in ascending order.
func SortedLabels(anchors map[int]string) []int {
	out := make([]int, 0, len(anchors))
	for k := range anchors {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
