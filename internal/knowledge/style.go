package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/artouc/ego-graphica/internal/persona"
	"github.com/artouc/ego-graphica/internal/provider"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxAnalysisRunes caps the text sent for style analysis.
	MaxAnalysisRunes = 10000
	// MinAnalysisRunes is the shortest text worth analysing.
	MinAnalysisRunes = 500

	analysisMaxTokens = 2048
)

const styleAnalysisPrompt = `以下のテキストの文体を詳細に分析し、JSON形式で結果を返してください。

分析観点:
1. 文末表現のパターン（です/ます調、である調、だ調など）
2. 句読点の使い方（感嘆符、疑問符、絵文字の使用有無）
3. フォーマル度（0.0-1.0）
4. 特徴的なフレーズや言い回し
5. 避けているパターン（使われていない表現）
6. 文の長さの傾向

以下のJSON形式で返してください:
{
    "sentence_endings": ["文末表現を3-5個"],
    "punctuation": {
        "uses_exclamation": false,
        "uses_question_marks": false,
        "uses_emoji": false,
        "period_style": "。",
        "comma_style": "、"
    },
    "formality_level": 0.8,
    "characteristic_phrases": ["特徴的なフレーズを3-5個"],
    "avoid_patterns": ["使われていないパターンを3-5個"],
    "sentence_length": "medium",
    "description": "この文体の総合的な特徴を1-2文で"
}

JSONのみを返してください。`

const sampleExtractionPrompt = `以下のテキストから、この著者の文体を最もよく表している文を5つ選んでください。

選定基準:
- 著者の語り口や考え方が表れている文
- 特徴的な言い回しや表現が含まれる文
- 完結した意味を持つ文（断片的でないもの）

JSON配列形式で返してください:
["文1", "文2", "文3", "文4", "文5"]

JSONのみを返してください。`

var errNoJSON = errors.New("no JSON found in model output")

// AnalyzeStyle asks the model for the writing style and representative
// samples of text. Both requests run concurrently.
func AnalyzeStyle(ctx context.Context, p provider.Provider, text string) (*persona.StyleProfile, error) {
	input := truncateRunes(text, MaxAnalysisRunes)

	var style persona.WritingStyle
	var samples []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := provider.Complete(gctx, p, "", styleAnalysisPrompt+"\n\n---\n\n"+input, analysisMaxTokens)
		if err != nil {
			return err
		}
		raw, err := extractJSON(out, '{', '}')
		if err != nil {
			return fmt.Errorf("style analysis: %w", err)
		}
		return json.Unmarshal([]byte(raw), &style)
	})
	g.Go(func() error {
		out, err := provider.Complete(gctx, p, "", sampleExtractionPrompt+"\n\n---\n\n"+input, analysisMaxTokens)
		if err != nil {
			return err
		}
		raw, err := extractJSON(out, '[', ']')
		if err != nil {
			return fmt.Errorf("style samples: %w", err)
		}
		return json.Unmarshal([]byte(raw), &samples)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	style.Version = persona.CurrentVersion
	return &persona.StyleProfile{Style: &style, Samples: samples}, nil
}

// extractJSON returns the span from the first open to the last close
// delimiter. Models often wrap JSON in prose or code fences.
func extractJSON(s string, open, close byte) (string, error) {
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i < 0 || j <= i {
		return "", errNoJSON
	}
	return s[i : j+1], nil
}
