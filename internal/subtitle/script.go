package subtitle

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// unspacedBases are languages written without spaces between words.
var unspacedBases = map[string]bool{
	"zh":  true,
	"ja":  true,
	"th":  true,
	"lo":  true,
	"km":  true,
	"my":  true,
	"yue": true,
}

// IsSpaceDelimited reports whether text in the given language separates words
// with spaces. An empty or "auto" hint falls back to inspecting the text.
func IsSpaceDelimited(languageHint, text string) bool {
	hint := strings.TrimSpace(strings.ToLower(languageHint))
	if hint != "" && hint != "auto" {
		if tag, err := language.Parse(hint); err == nil {
			base, _ := tag.Base()
			return !unspacedBases[base.String()]
		}
	}
	return !mostlyUnspacedScript(text)
}

func mostlyUnspacedScript(text string) bool {
	var letters, unspaced int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if isUnspacedRune(r) {
			unspaced++
		}
	}
	if letters == 0 {
		return false
	}
	return unspaced*10 >= letters*3
}

func isUnspacedRune(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Thai, r)
}

// LanguageName maps a short code to the name used in LLM prompts.
func LanguageName(code string) string {
	names := map[string]string{
		"zh":    "Simplified Chinese",
		"zh-cn": "Simplified Chinese",
		"zh-tw": "Traditional Chinese",
		"en":    "English",
		"ja":    "Japanese",
		"ko":    "Korean",
		"es":    "Spanish",
		"fr":    "French",
		"de":    "German",
		"it":    "Italian",
		"pt":    "Portuguese",
		"ru":    "Russian",
		"th":    "Thai",
		"vi":    "Vietnamese",
		"id":    "Indonesian",
		"ar":    "Arabic",
		"hi":    "Hindi",
	}
	lower := strings.ToLower(strings.TrimSpace(code))
	if name, ok := names[lower]; ok {
		return name
	}
	if tag, err := language.Parse(lower); err == nil {
		base, _ := tag.Base()
		if name, ok := names[base.String()]; ok {
			return name
		}
	}
	return code
}
