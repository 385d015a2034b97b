// Package persona holds the artist persona and writing-style profile that
// drive prompt construction. Both are optional per tenant: a nil value means
// "not configured yet", which is a normal state.
package persona

// CurrentVersion is written into every stored Persona and WritingStyle.
const CurrentVersion = 1

// Tone is the speaking tone configured for the persona.
type Tone string

const (
	ToneFormal       Tone = "formal"
	ToneFriendly     Tone = "friendly"
	ToneArtistic     Tone = "artistic"
	ToneProfessional Tone = "professional"
	TonePlayful      Tone = "playful"
)

func (t Tone) Valid() bool {
	switch t {
	case ToneFormal, ToneFriendly, ToneArtistic, ToneProfessional, TonePlayful:
		return true
	}
	return false
}

// Description is the Japanese phrase used in prompts for the tone.
func (t Tone) Description() string {
	switch t {
	case ToneFormal:
		return "丁寧でフォーマルな話し方"
	case ToneFriendly:
		return "親しみやすくフレンドリーな話し方"
	case ToneArtistic:
		return "芸術的で詩的な表現を使う話し方"
	case ToneProfessional:
		return "プロフェッショナルでビジネスライクな話し方"
	case TonePlayful:
		return "遊び心があり、ユーモアを交えた話し方"
	}
	return "自然な話し方"
}

// SampleResponse is an ideal exchange shown to the model as an example.
type SampleResponse struct {
	Situation string `json:"situation" yaml:"situation"`
	Message   string `json:"message" yaml:"message"`
	Response  string `json:"response" yaml:"response"`
}

// Persona describes who the agent speaks as.
type Persona struct {
	Version    int              `json:"version" yaml:"version"`
	Character  string           `json:"character,omitempty" yaml:"character,omitempty"`
	Motif      string           `json:"motif" yaml:"motif"`
	Tone       Tone             `json:"tone" yaml:"tone"`
	Philosophy string           `json:"philosophy,omitempty" yaml:"philosophy,omitempty"`
	Influences []string         `json:"influences,omitempty" yaml:"influences,omitempty"`
	Samples    []SampleResponse `json:"samples,omitempty" yaml:"samples,omitempty"`
	Avoidances []string         `json:"avoidances,omitempty" yaml:"avoidances,omitempty"`
}

// Punctuation captures punctuation habits found in the artist's own writing.
type Punctuation struct {
	UsesExclamation   bool   `json:"uses_exclamation"`
	UsesQuestionMarks bool   `json:"uses_question_marks"`
	UsesEmoji         bool   `json:"uses_emoji"`
	PeriodStyle       string `json:"period_style"`
	CommaStyle        string `json:"comma_style"`
}

// WritingStyle is the style profile derived from ingested text.
type WritingStyle struct {
	Version               int         `json:"version"`
	SentenceEndings       []string    `json:"sentence_endings"`
	Punctuation           Punctuation `json:"punctuation"`
	FormalityLevel        float64     `json:"formality_level"`
	CharacteristicPhrases []string    `json:"characteristic_phrases"`
	AvoidPatterns         []string    `json:"avoid_patterns"`
	SentenceLength        string      `json:"sentence_length"`
	Description           string      `json:"description"`
}

// FormalityLabel buckets the formality level for the prompt.
func (w *WritingStyle) FormalityLabel() string {
	switch {
	case w.FormalityLevel < 0.4:
		return "カジュアル"
	case w.FormalityLevel < 0.7:
		return "やや丁寧"
	default:
		return "フォーマル"
	}
}

// StyleProfile is the per-tenant document holding the merged style and its samples.
type StyleProfile struct {
	Style   *WritingStyle `json:"style,omitempty"`
	Samples []string      `json:"samples,omitempty"`
}
