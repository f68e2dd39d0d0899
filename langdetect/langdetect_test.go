package langdetect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectEnglish(t *testing.T) {
	r := Detect("This is an ordinary English paragraph about nothing in particular.")
	require.Equal(t, "en", r.Language)
	require.False(t, r.IsRTL)
}

func TestDetectArabic(t *testing.T) {
	arabic := strings.Repeat("بسم الله الرحمن الرحيم ", 5)
	r := Detect(arabic)
	require.Equal(t, "ar", r.Language)
	require.True(t, r.IsRTL)
}

func TestDetectFarsi(t *testing.T) {
	farsi := strings.Repeat("پنجره چوبی ژرف گفتگوی ", 8)
	r := Detect(farsi)
	require.Equal(t, "fa", r.Language)
	require.True(t, r.IsRTL)
}

func TestResolveLanguageContentWinsForArabic(t *testing.T) {
	arabicBody := strings.Repeat("بسم الله الرحمن الرحيم ", 5)
	r := ResolveLanguage("en", arabicBody)
	require.Equal(t, "ar", r.Language)
	require.True(t, r.IsRTL)
}

func TestResolveLanguageDefersToFrontmatterForEnglish(t *testing.T) {
	r := ResolveLanguage("en-US", "Plain English text here.")
	require.Equal(t, "en-US", r.Language)
}
