package model

import (
	"sort"
	"testing"
)

func TestLookupLanguage(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		wantCode string
		wantOK   bool
	}{
		{name: "english", input: "english", wantCode: "en-US", wantOK: true},
		{name: "uppercase", input: "GERMAN", wantCode: "de-DE", wantOK: true},
		{name: "empty defaults to english", input: "", wantCode: "en-US", wantOK: true},
		{name: "macedonian", input: "macedonian", wantCode: "mk-MK", wantOK: true},
		{name: "unsupported", input: "klingon", wantOK: false},
		{name: "locale code is not a selector", input: "en-US", wantOK: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			lang, ok := LookupLanguage(tc.input)
			if ok != tc.wantOK {
				t.Fatalf("LookupLanguage(%q) ok = %v, want %v", tc.input, ok, tc.wantOK)
			}
			if ok && lang.Code != tc.wantCode {
				t.Errorf("LookupLanguage(%q) code = %q, want %q", tc.input, lang.Code, tc.wantCode)
			}
		})
	}
}

func TestSupportedLanguageNames(t *testing.T) {
	names := SupportedLanguageNames()
	if len(names) != 20 {
		t.Fatalf("expected 20 languages, got %d", len(names))
	}
	if !sort.StringsAreSorted(names) {
		t.Error("language names should be sorted")
	}
}
