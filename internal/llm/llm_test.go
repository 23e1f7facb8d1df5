package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litreview-engine/internal/httputil"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

func TestMain(m *testing.M) {
	backoffBase = time.Millisecond
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

func TestChatBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
			assert.Equal(t, "hello", req.Messages[0].Content)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"world"}}]}`))
	}))
	defer srv.Close()

	c := &ChatBackend{BaseURL: srv.URL + "/api/v3", APIKey: "sk-test"}
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "world", out)
}

func TestChatBackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"bad request", http.StatusBadRequest, `{"error":"no such model"}`, "400"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "empty content"},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, "empty content"},
		{"not json", http.StatusOK, `<html>`, "decoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := (&ChatBackend{BaseURL: srv.URL}).Complete(context.Background(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCallWithRetry(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		var calls int
		c := ClientFunc(func(ctx context.Context, prompt string) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("flaky")
			}
			return "ok", nil
		})
		out, err := CallWithRetry(context.Background(), c, "p", 0)
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		var calls int
		boom := errors.New("boom")
		c := ClientFunc(func(ctx context.Context, prompt string) (string, error) {
			calls++
			return "", boom
		})
		_, err := CallWithRetry(context.Background(), c, "p", 2)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "after 2 retries")
		assert.Equal(t, 3, calls)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		c := ClientFunc(func(ctx context.Context, prompt string) (string, error) {
			cancel()
			return "", errors.New("boom")
		})
		_, err := CallWithRetry(ctx, c, "p", 3)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestParseAnchors(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    map[int]string
		wantErr bool
	}{
		{"plain", `{"0": "图神经网络", "1": "强化学习"}`, map[int]string{0: "图神经网络", 1: "强化学习"}, false},
		{"fenced", "```json\n{\"0\": \"a\"}\n```", map[int]string{0: "a"}, false},
		{"prefix trimmed", `{"2": "该类文献聚焦于图学习"}`, map[int]string{2: "文献聚焦于图学习"}, false},
		{"spaced key", `{" 3 ": "x"}`, map[int]string{3: "x"}, false},
		{"non-integer key", `{"Key1": "x"}`, nil, true},
		{"empty object", `{}`, nil, true},
		{"not json", `分类如下：0 是……`, nil, true},
		{"non-string value", `{"0": ["a"]}`, nil, true},
		{"negative key", `{"-1": "noise-like", "0": "alpha"}`, nil, true},
		{"duplicate after trim", `{"0": "a", " 0": "b"}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnchors(tt.reply)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// recorder is a concurrency-safe Client that answers with reply(prompt).
type recorder struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (r *recorder) Complete(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	return r.reply(prompt)
}

func TestAnchorGenerator(t *testing.T) {
	rec := &recorder{reply: func(string) (string, error) {
		return `{"0": "该类甲", "1": "该类乙"}`, nil
	}}
	g := &AnchorGenerator{Client: rec}

	t.Run("round 1", func(t *testing.T) {
		got, err := g.Generate(context.Background(), Request{
			Round:            1,
			Count:            2,
			Context:          "《论文一》\n[文献定位]: 图学习",
			PaperDescription: "图上的推荐系统",
		})
		require.NoError(t, err)
		assert.Equal(t, map[int]string{0: "甲", 1: "乙"}, got)

		p := rec.prompts[len(rec.prompts)-1]
		assert.Contains(t, p, "初步分类")
		assert.Contains(t, p, "图上的推荐系统")
		assert.Contains(t, p, "《论文一》")
	})

	t.Run("round 2 carries the parent", func(t *testing.T) {
		_, err := g.Generate(context.Background(), Request{Round: 2, Parent: "父类描述", Context: "abcdef", MaxChars: 3})
		require.NoError(t, err)

		p := rec.prompts[len(rec.prompts)-1]
		assert.Contains(t, p, "【父类描述】")
		assert.Contains(t, p, "暂未提供", "empty paper description gets a placeholder")
		assert.Contains(t, p, "abc")
		assert.NotContains(t, p, "abcd")
	})

	t.Run("unknown round", func(t *testing.T) {
		_, err := g.Generate(context.Background(), Request{Round: 3})
		assert.Error(t, err)
	})

	t.Run("malformed reply", func(t *testing.T) {
		bad := &AnchorGenerator{Client: ClientFunc(func(context.Context, string) (string, error) {
			return "抱歉，我无法完成", nil
		})}
		_, err := bad.Generate(context.Background(), Request{Round: 1})
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func keywordRequest() KeywordRequest {
	doc := func(tag string) types.Document {
		return types.Document{Main: tag + " main", Summary: tag + " summary", Map: tag + " map", Lineage: tag + " lineage"}
	}
	return KeywordRequest{
		Labels: map[string]int{
			"a1":           0,
			"a2":           0,
			"b1":           1,
			"noise":        -1,
			"__ANCHOR_0__": 0,
		},
		Docs: map[string]types.Document{
			"a1":           doc("alpha"),
			"a2":           doc("alpha2"),
			"b1":           doc("beta"),
			"noise":        doc("noise"),
			"__ANCHOR_0__": doc("anchor"),
		},
		Weights: types.Weights{Main: 0.1, Summary: 0.2, Map: 0.55, Lineage: 0.35},
		TopN:    2,
	}
}

func isContrast(prompt string) bool { return strings.Contains(prompt, "架构总编") }

func TestKeywordGenerator(t *testing.T) {
	rec := &recorder{reply: func(prompt string) (string, error) {
		if isContrast(prompt) {
			return `{"evaluation": "两类差异明显", "results": {"0": ["k1", "k2", "k3"], "1": ["m1"], "x": ["skip"]}}`, nil
		}
		return "短语一；短语二；短语三", nil
	}}
	g := &KeywordGenerator{Client: rec}

	kws, eval, err := g.Generate(context.Background(), keywordRequest())
	require.NoError(t, err)
	assert.Equal(t, "两类差异明显", eval)
	assert.Equal(t, map[int][]string{0: {"k1", "k2"}, 1: {"m1"}}, kws)

	var profiles []string
	for _, p := range rec.prompts {
		if !isContrast(p) {
			profiles = append(profiles, p)
		}
	}
	require.Len(t, profiles, 2, "one profile per category")
	for _, p := range profiles {
		assert.NotContains(t, p, "noise main")
		assert.NotContains(t, p, "anchor main")
		if strings.Contains(p, "alpha main") {
			assert.Contains(t, p, "alpha2 main")
			assert.NotContains(t, p, "beta main")
			assert.Contains(t, p, "重要程度极高", "map weight 0.55")
		}
	}
}

func TestKeywordGeneratorFallsBackToProfiles(t *testing.T) {
	rec := &recorder{reply: func(prompt string) (string, error) {
		if isContrast(prompt) {
			return "not json", nil
		}
		return "'短语一'; '短语二'；短语三", nil
	}}
	g := &KeywordGenerator{Client: rec}

	kws, eval, err := g.Generate(context.Background(), keywordRequest())
	require.NoError(t, err)
	assert.Empty(t, eval)
	assert.Equal(t, []string{"短语一", "短语二"}, kws[0])
	assert.Equal(t, []string{"短语一", "短语二"}, kws[1])
}

func TestKeywordGeneratorAllFailing(t *testing.T) {
	var calls atomic.Int32
	g := &KeywordGenerator{Client: ClientFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", errors.New("down")
	}), MaxRetries: 1}

	_, _, err := g.Generate(context.Background(), keywordRequest())
	assert.Error(t, err)
	// Two profiles and one contrast call, each tried twice.
	assert.Equal(t, int32(6), calls.Load())
}

func TestKeywordGeneratorNoCategories(t *testing.T) {
	g := &KeywordGenerator{Client: ClientFunc(func(context.Context, string) (string, error) {
		t.Fatal("no call expected")
		return "", nil
	})}
	kws, _, err := g.Generate(context.Background(), KeywordRequest{Labels: map[string]int{"x": -1}})
	require.NoError(t, err)
	assert.Empty(t, kws)
}

func TestSplitProfile(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want []string
	}{
		{"a; b; c", 5, []string{"a", "b", "c"}},
		{"a；b；c；d", 2, []string{"a", "b"}},
		{"'a', ; ;\"b\"", 5, []string{"a", "b"}},
		{"", 5, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitProfile(tt.in, tt.n), tt.in)
	}
}

func TestImportance(t *testing.T) {
	assert.Equal(t, "极高", importance(0.5))
	assert.Equal(t, "较高", importance(0.35))
	assert.Equal(t, "一般", importance(0.2))
}
