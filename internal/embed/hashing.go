// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"math"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/mat"
)

const defaultFeatures = 2048

// HashingVectorizer is the offline backend. Tokens are hashed into a fixed
// number of signed buckets and weighted by sublinear tf times smoothed idf
// over the batch.
type HashingVectorizer struct {
	Features int
}

// Vectorize implements Vectorizer.
func (h HashingVectorizer) Vectorize(ctx context.Context, texts []string) (*mat.Dense, error) {
	features := h.Features
	if features <= 0 {
		features = defaultFeatures
	}
	n := len(texts)
	if n == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(n, features, nil)

	fold := cases.Fold()
	tf := make([]map[string]int, n)
	df := make(map[string]int)
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, tok := range Tokenize(fold.String(norm.NFKC.String(text))) {
			counts[tok]++
		}
		for tok := range counts {
			df[tok]++
		}
		tf[i] = counts
	}

	for i, counts := range tf {
		row := out.RawRowView(i)
		for tok, c := range counts {
			idf := math.Log(float64(1+n)/float64(1+df[tok])) + 1
			w := (1 + math.Log(float64(c))) * idf
			hash := xxhash.Sum64String(tok)
			bucket := int(hash % uint64(features))
			if hash>>63 == 1 {
				w = -w
			}
			row[bucket] += w
		}
	}
	return out, nil
}

// Tokenize splits normalised text into tokens: runs of letters or digits
// form words of at least two runes, and runs of Han characters form
// overlapping bigrams (a lone character is kept as is).
func Tokenize(text string) []string {
	var (
		tokens []string
		word   []rune
		han    []rune
	)
	flushWord := func() {
		if len(word) >= 2 {
			tokens = append(tokens, string(word))
		}
		word = word[:0]
	}
	flushHan := func() {
		switch len(han) {
		case 0:
		case 1:
			tokens = append(tokens, string(han))
		default:
			for i := 0; i+1 < len(han); i++ {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}
