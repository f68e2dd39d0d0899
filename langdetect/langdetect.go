// Package langdetect classifies text by script: Arabic, Persian, or
// English, counting Unicode code-point membership rather than relying on a
// statistical model, since the library's corpus only spans these scripts.
package langdetect

const (
	arabicThreshold = 0.20
	farsiThreshold  = 0.10
)

var farsiOnlyRunes = map[rune]bool{
	'پ': true, // PEH
	'چ': true, // TCHEH
	'ژ': true, // JEH
	'گ': true, // GAF
	'ی': true, // FARSI YEH
}

func isArabicScript(r rune) bool {
	switch {
	case r >= 0x0600 && r <= 0x06FF:
		return true
	case r >= 0x0750 && r <= 0x077F:
		return true
	case r >= 0xFB50 && r <= 0xFDFF:
		return true
	case r >= 0xFE70 && r <= 0xFEFF:
		return true
	default:
		return false
	}
}

// Result is the detector's verdict.
type Result struct {
	Language string // "en", "ar", or "fa"
	IsRTL    bool
}

// Detect classifies text by counting Arabic-script and Farsi-specific
// code points against non-whitespace code points.
func Detect(text string) Result {
	var nonSpace, arabicScript, farsiSpecific int

	for _, r := range text {
		if isSpace(r) {
			continue
		}
		nonSpace++
		if isArabicScript(r) {
			arabicScript++
			if farsiOnlyRunes[r] {
				farsiSpecific++
			}
		}
	}

	if nonSpace == 0 || arabicScript == 0 {
		return Result{Language: "en", IsRTL: false}
	}

	fraction := float64(arabicScript) / float64(nonSpace)
	if fraction < arabicThreshold {
		return Result{Language: "en", IsRTL: false}
	}

	if float64(farsiSpecific)/float64(arabicScript) > farsiThreshold {
		return Result{Language: "fa", IsRTL: true}
	}
	return Result{Language: "ar", IsRTL: true}
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// ResolveLanguage applies the content-authoritative rule: when content
// detection yields a non-English script, it wins over whatever the
// frontmatter declared. A content detection of "en" defers to an explicit
// frontmatter language, since English content never corrects a stale tag.
func ResolveLanguage(frontmatterLanguage, body string) Result {
	detected := Detect(body)
	if detected.Language != "en" {
		return detected
	}
	if frontmatterLanguage == "" {
		return detected
	}
	return Result{Language: frontmatterLanguage, IsRTL: false}
}
