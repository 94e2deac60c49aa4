package domain

import "strings"

// LanguagePair is a supported translation direction such as "en_to_zh".
type LanguagePair string

const (
	EnToZh LanguagePair = "en_to_zh"
	ZhToEn LanguagePair = "zh_to_en"
	JaToZh LanguagePair = "ja_to_zh"
	KoToZh LanguagePair = "ko_to_zh"
	FrToZh LanguagePair = "fr_to_zh"
	DeToZh LanguagePair = "de_to_zh"
	EsToZh LanguagePair = "es_to_zh"
	RuToZh LanguagePair = "ru_to_zh"

	DefaultLanguagePair = EnToZh
)

var supportedPairs = map[LanguagePair]bool{
	EnToZh: true, ZhToEn: true, JaToZh: true, KoToZh: true,
	FrToZh: true, DeToZh: true, EsToZh: true, RuToZh: true,
}

// ParseLanguagePair validates a pair code. An empty code selects the default pair.
func ParseLanguagePair(v string) (LanguagePair, error) {
	if v == "" {
		return DefaultLanguagePair, nil
	}
	p := LanguagePair(strings.ToLower(v))
	if !supportedPairs[p] {
		return "", NewValidationError("source_language", "unsupported language pair %q", v)
	}
	return p, nil
}

// In returns the source language code.
func (p LanguagePair) In() string {
	in, _, _ := strings.Cut(string(p), "_to_")
	return in
}

// Out returns the target language code.
func (p LanguagePair) Out() string {
	_, out, _ := strings.Cut(string(p), "_to_")
	return out
}
