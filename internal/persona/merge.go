package persona

import "math"

const (
	maxSentenceEndings = 5
	maxPhrases         = 10
	maxAvoidPatterns   = 10
	maxStyleSamples    = 10
)

// MergeStyles folds a newly analysed style into the existing profile.
// Exclamation and emoji habits must hold in both; question marks in either.
func MergeStyles(existing, next *WritingStyle) *WritingStyle {
	if next == nil {
		return existing
	}
	if existing == nil {
		out := *next
		out.Version = CurrentVersion
		return &out
	}

	avg := (existing.FormalityLevel + next.FormalityLevel) / 2
	return &WritingStyle{
		Version:               CurrentVersion,
		SentenceEndings:       limit(dedupe(existing.SentenceEndings, next.SentenceEndings), maxSentenceEndings),
		CharacteristicPhrases: limit(dedupe(existing.CharacteristicPhrases, next.CharacteristicPhrases), maxPhrases),
		AvoidPatterns:         limit(dedupe(existing.AvoidPatterns, next.AvoidPatterns), maxAvoidPatterns),
		FormalityLevel:        math.Round(avg*100) / 100,
		Punctuation: Punctuation{
			UsesExclamation:   existing.Punctuation.UsesExclamation && next.Punctuation.UsesExclamation,
			UsesQuestionMarks: existing.Punctuation.UsesQuestionMarks || next.Punctuation.UsesQuestionMarks,
			UsesEmoji:         existing.Punctuation.UsesEmoji && next.Punctuation.UsesEmoji,
			PeriodStyle:       next.Punctuation.PeriodStyle,
			CommaStyle:        next.Punctuation.CommaStyle,
		},
		SentenceLength: next.SentenceLength,
		Description:    next.Description,
	}
}

// MergeSamples appends new samples after the existing ones, dropping duplicates.
func MergeSamples(existing, next []string) []string {
	return limit(dedupe(existing, next), maxStyleSamples)
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func limit(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
