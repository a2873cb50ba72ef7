package model

import (
	"sort"
	"strings"
)

// DefaultLanguage is used when a transcription request names no language.
const DefaultLanguage = "english"

// Language is a supported transcription language.
type Language struct {
	Name string `json:"language"`
	Code string `json:"language_code"`
}

// supportedLanguages maps selectors to recognizer locale codes.
var supportedLanguages = map[string]string{
	"english":    "en-US",
	"italian":    "it-IT",
	"german":     "de-DE",
	"french":     "fr-FR",
	"spanish":    "es-ES",
	"dutch":      "nl-NL",
	"macedonian": "mk-MK",
	"portuguese": "pt-PT",
	"russian":    "ru-RU",
	"chinese":    "zh-CN",
	"japanese":   "ja-JP",
	"korean":     "ko-KR",
	"arabic":     "ar-AE",
	"hindi":      "hi-IN",
	"turkish":    "tr-TR",
	"greek":      "el-GR",
	"polish":     "pl-PL",
	"romanian":   "ro-RO",
	"vietnamese": "vi-VN",
	"thai":       "th-TH",
}

// LookupLanguage resolves a selector (case-insensitive). An empty selector
// resolves to DefaultLanguage.
func LookupLanguage(name string) (Language, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultLanguage
	}
	code, ok := supportedLanguages[name]
	if !ok {
		return Language{}, false
	}
	return Language{Name: name, Code: code}, true
}

// SupportedLanguageNames returns all selectors in sorted order.
func SupportedLanguageNames() []string {
	names := make([]string, 0, len(supportedLanguages))
	for name := range supportedLanguages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
