package persona

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()

	yamlPath := filepath.Join(tmpDir, "persona.yaml")
	os.WriteFile(yamlPath, []byte(`character: ケロ
motif: カエル
tone: playful
philosophy: 日常の小さな驚き
influences: [浮世絵, 絵本]
samples:
  - situation: 初めての問い合わせ
    message: 依頼できますか？
    response: もちろんケロ！
avoidances: [政治]
`), 0600)

	jsonPath := filepath.Join(tmpDir, "persona.json")
	os.WriteFile(jsonPath, []byte(`{"motif": "猫", "tone": "friendly", "version": 1}`), 0600)

	t.Run("YAML", func(t *testing.T) {
		p, err := LoadFile(yamlPath)
		if err != nil {
			t.Fatalf("Failed to load YAML: %v", err)
		}
		if p.Character != "ケロ" {
			t.Errorf("Expected 'ケロ', got '%s'", p.Character)
		}
		if p.Version != CurrentVersion {
			t.Errorf("Expected version %d, got %d", CurrentVersion, p.Version)
		}
		if len(p.Samples) != 1 || p.Samples[0].Response != "もちろんケロ！" {
			t.Errorf("Unexpected samples %+v", p.Samples)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		p, err := LoadFile(jsonPath)
		if err != nil {
			t.Fatalf("Failed to load JSON: %v", err)
		}
		if p.Motif != "猫" || p.Tone != ToneFriendly {
			t.Errorf("Unexpected persona %+v", p)
		}
	})

	t.Run("Invalid Extension", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(tmpDir, "persona.txt")); err == nil {
			t.Error("Expected error for .txt extension")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		res := Validate(Persona{Motif: "カエル", Tone: ToneArtistic, Philosophy: "静けさ",
			Samples: []SampleResponse{{Message: "a", Response: "b"}}})
		if !res.Valid {
			t.Errorf("Expected valid, got errors %v", res.Errors)
		}
		if len(res.Warnings) != 0 {
			t.Errorf("Expected no warnings, got %v", res.Warnings)
		}
		if res.Err() != nil {
			t.Errorf("Expected nil Err, got %v", res.Err())
		}
	})

	t.Run("Missing motif and bad tone", func(t *testing.T) {
		res := Validate(Persona{Tone: "grumpy"})
		if res.Valid {
			t.Fatal("Expected invalid persona")
		}
		if len(res.Errors) != 2 {
			t.Errorf("Expected 2 errors, got %v", res.Errors)
		}
		if !errors.Is(res.Err(), ErrInvalid) {
			t.Errorf("Expected ErrInvalid, got %v", res.Err())
		}
	})

	t.Run("Incomplete sample", func(t *testing.T) {
		res := Validate(Persona{Motif: "猫", Tone: ToneFormal, Samples: []SampleResponse{{Message: "hi"}}})
		if res.Valid {
			t.Error("Expected sample without response to be rejected")
		}
	})
}

func TestTone(t *testing.T) {
	if ToneFriendly.Description() != "親しみやすくフレンドリーな話し方" {
		t.Errorf("unexpected description %q", ToneFriendly.Description())
	}
	if Tone("unknown").Description() != "自然な話し方" {
		t.Errorf("unexpected fallback %q", Tone("unknown").Description())
	}
}

func TestFormalityLabel(t *testing.T) {
	cases := []struct {
		level float64
		want  string
	}{
		{0.1, "カジュアル"},
		{0.39, "カジュアル"},
		{0.4, "やや丁寧"},
		{0.69, "やや丁寧"},
		{0.7, "フォーマル"},
		{1.0, "フォーマル"},
	}
	for _, tc := range cases {
		w := &WritingStyle{FormalityLevel: tc.level}
		if got := w.FormalityLabel(); got != tc.want {
			t.Errorf("level %v: expected %q, got %q", tc.level, tc.want, got)
		}
	}
}

func TestMergeStyles(t *testing.T) {
	existing := &WritingStyle{
		SentenceEndings:       []string{"です", "ます", "ですね"},
		CharacteristicPhrases: []string{"ふわっと", "じんわり"},
		AvoidPatterns:         []string{"だ"},
		FormalityLevel:        0.8,
		Punctuation:           Punctuation{UsesExclamation: true, UsesEmoji: true, UsesQuestionMarks: false, PeriodStyle: "。"},
		SentenceLength:        "short",
		Description:           "old",
	}
	next := &WritingStyle{
		SentenceEndings:       []string{"ます", "でしょう", "かな", "よね"},
		CharacteristicPhrases: []string{"じんわり", "きらり"},
		AvoidPatterns:         []string{"である"},
		FormalityLevel:        0.55,
		Punctuation:           Punctuation{UsesExclamation: false, UsesEmoji: true, UsesQuestionMarks: true, PeriodStyle: "．", CommaStyle: "，"},
		SentenceLength:        "medium",
		Description:           "new",
	}

	got := MergeStyles(existing, next)

	wantEndings := []string{"です", "ます", "ですね", "でしょう", "かな"}
	if !reflect.DeepEqual(got.SentenceEndings, wantEndings) {
		t.Errorf("expected endings %v, got %v", wantEndings, got.SentenceEndings)
	}
	if !reflect.DeepEqual(got.CharacteristicPhrases, []string{"ふわっと", "じんわり", "きらり"}) {
		t.Errorf("unexpected phrases %v", got.CharacteristicPhrases)
	}
	if got.FormalityLevel != 0.68 {
		t.Errorf("expected formality 0.68, got %v", got.FormalityLevel)
	}
	if got.Punctuation.UsesExclamation {
		t.Error("exclamation must hold in both profiles")
	}
	if !got.Punctuation.UsesEmoji {
		t.Error("emoji held in both profiles")
	}
	if !got.Punctuation.UsesQuestionMarks {
		t.Error("question marks hold in either profile")
	}
	if got.Punctuation.PeriodStyle != "．" || got.Description != "new" || got.SentenceLength != "medium" {
		t.Errorf("expected newer scalar fields, got %+v", got)
	}
	if got.Version != CurrentVersion {
		t.Errorf("expected version %d, got %d", CurrentVersion, got.Version)
	}
}

func TestMergeStyles_NilSides(t *testing.T) {
	next := &WritingStyle{Description: "only"}
	if got := MergeStyles(nil, next); got.Description != "only" || got == next {
		t.Errorf("expected a copy of next, got %+v", got)
	}
	existing := &WritingStyle{Description: "kept"}
	if got := MergeStyles(existing, nil); got != existing {
		t.Error("expected existing to be returned unchanged")
	}
}

func TestMergeSamples(t *testing.T) {
	existing := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	got := MergeSamples(existing, []string{"b", "i", "j", "k"})
	want := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := MergeSamples(nil, []string{"x", "x"}); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("expected dedupe on first merge, got %v", got)
	}
}
