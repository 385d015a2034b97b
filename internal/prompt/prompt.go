// Package prompt assembles the system prompt from cached tenant context and
// real-time retrieval results.
package prompt

import (
	"fmt"
	"strings"

	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/persona"
)

// Section headers, in prompt order.
const (
	HeaderCharacter = "## キャラクター設定"
	HeaderAvoid     = "## 避けるべきトピック"
	HeaderSamples   = "## 応答例"
	HeaderStyle     = "## 文体ガイド（CAG）"
	HeaderReference = "## 参考文章（この人の実際の書き方）"
	HeaderSummary   = "## 作品・資料の概要（CAG）"
	HeaderRealtime  = "## 参考情報（RAG）"
	HeaderRules     = "## 応答ルール（厳守）"
)

const (
	identity        = "あなたはアーティストの代わりに顧客対応を行うAIエージェント「ego Graphica」です。"
	realtimeLead    = "以下の情報を参考にして回答してください:"
	maxStyleSamples = 3
	listSeparator   = "、"
)

const rules = HeaderRules + `
1. 顧客への返答を1-2文で書く
2. 返答を書き終えたら、shouldContinue ツールを呼び出す（テキストで説明しない）
3. shouldContinue で have_more_to_say: true を返した場合、ツール結果を受け取ったら次の話題について新しいメッセージを書く

shouldContinue ツールのパラメータ:
- have_more_to_say: 続けて話したいなら true、終わりなら false
- next_topic: 次の話題（なければ「なし」）

## 継続時の動作
ツール結果で「続けてください」と指示されたら、新しい短いメッセージを書いてください。各メッセージは独立した吹き出しとして表示されます。

## 禁止事項
- ツールについてテキストで説明しない
- 「shouldContinue」という単語を顧客に見せない
- 長文を書かない（1-2文まで）

## 応答スタイル
- 上記の文体ガイドに従って自然に話す
- アーティストらしい個性を持って対応
- わからないことは「確認します」と伝える`

// Input is everything the system prompt is built from. Every field is optional.
type Input struct {
	Persona          *persona.Persona
	KnowledgeSummary string
	Realtime         []memory.Item
	WritingStyle     *persona.WritingStyle
	StyleSamples     []string
}

// Assemble builds the system prompt. The output depends only on in.
func Assemble(in Input) string {
	var b strings.Builder
	b.WriteString(identity)

	if p := in.Persona; p != nil {
		writePersona(&b, p)
	}
	if w := in.WritingStyle; w != nil {
		writeStyle(&b, w)
	}

	if len(in.StyleSamples) > 0 {
		b.WriteString("\n\n" + HeaderReference)
		for _, s := range in.StyleSamples[:min(len(in.StyleSamples), maxStyleSamples)] {
			fmt.Fprintf(&b, "\n「%s」", s)
		}
	}

	if summary := strings.TrimSpace(in.KnowledgeSummary); summary != "" {
		b.WriteString("\n\n" + HeaderSummary + "\n" + summary)
	}

	if realtime := FormatResults(in.Realtime); realtime != "" {
		b.WriteString("\n\n" + HeaderRealtime + "\n" + realtimeLead + "\n\n" + realtime)
	}

	b.WriteString("\n\n" + rules)
	return b.String()
}

func writePersona(b *strings.Builder, p *persona.Persona) {
	b.WriteString("\n\n" + HeaderCharacter)
	if p.Character != "" {
		fmt.Fprintf(b, "\nあなたの名前は「%s」です。", p.Character)
	}
	if p.Motif != "" {
		b.WriteString("\nモチーフ: " + p.Motif)
	}
	if p.Tone != "" {
		b.WriteString("\n話し方: " + p.Tone.Description())
	}
	if p.Philosophy != "" {
		b.WriteString("\n創作哲学: " + p.Philosophy)
	}
	if len(p.Influences) > 0 {
		b.WriteString("\n影響を受けた作家・文化: " + strings.Join(p.Influences, listSeparator))
	}

	if len(p.Avoidances) > 0 {
		fmt.Fprintf(b, "\n\n%s\n%sについての話題は避けてください。", HeaderAvoid, strings.Join(p.Avoidances, listSeparator))
	}

	if len(p.Samples) > 0 {
		b.WriteString("\n\n" + HeaderSamples)
		for _, s := range p.Samples {
			fmt.Fprintf(b, "\n\n状況: %s\n顧客: %s\n応答: %s", s.Situation, s.Message, s.Response)
		}
	}
}

func writeStyle(b *strings.Builder, w *persona.WritingStyle) {
	b.WriteString("\n\n" + HeaderStyle)
	if w.Description != "" {
		b.WriteString("\n" + w.Description)
	}
	b.WriteString("\n- 文末表現: " + strings.Join(w.SentenceEndings, listSeparator))
	b.WriteString("\n- フォーマル度: " + w.FormalityLabel())
	if len(w.CharacteristicPhrases) > 0 {
		b.WriteString("\n- 特徴的フレーズ: " + strings.Join(w.CharacteristicPhrases, listSeparator))
	}
	if w.Punctuation.UsesEmoji {
		b.WriteString("\n- 絵文字を適度に使用")
	}
	if w.Punctuation.UsesExclamation {
		b.WriteString("\n- 感嘆符（！）を使用")
	}
}

// FormatResults renders retrieval results as numbered reference blocks.
func FormatResults(items []memory.Item) string {
	blocks := make([]string, 0, len(items))
	for i, item := range items {
		blocks = append(blocks, fmt.Sprintf("[%d] %s\n%s", i+1, item.Title(), item.Content))
	}
	return strings.Join(blocks, "\n\n")
}
