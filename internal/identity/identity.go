// Package identity extracts the movie code and subtitle classification from
// video filenames.
package identity

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Subtitle classifications. First matching keyword wins; files without a
// recognized keyword are tagged NoSub.
const (
	SubEnglish = "English Sub"
	SubChinese = "Chinese Sub"
	NoSub      = "No Sub"
)

// movieCodeRe matches codes like SONE-760: 2-6 letters, dash, 1-5 digits.
var movieCodeRe = regexp.MustCompile(`([A-Za-z]{2,6})-(\d{1,5})`)

var subtitleKeywords = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`(?i)english\s*sub(?:bed|s|title[ds]?)?`), SubEnglish},
	{regexp.MustCompile(`(?i)\beng\b`), SubEnglish},
	{regexp.MustCompile(`(?i)chinese\s*sub(?:bed|s|title[ds]?)?`), SubChinese},
	{regexp.MustCompile(`(?i)\bchi\b`), SubChinese},
}

// ExtractMovieCode pulls a movie code out of a filename. The letter part is
// uppercased; digits keep their leading zeros. Returns "" when the filename
// carries no code.
func ExtractMovieCode(filename string) string {
	stem := fileStem(filename)
	match := movieCodeRe.FindStringSubmatch(stem)
	if match == nil {
		return ""
	}
	return strings.ToUpper(match[1]) + "-" + match[2]
}

// DetectSubtitle classifies a filename by its subtitle keywords.
func DetectSubtitle(filename string) string {
	stem := fileStem(filename)
	for _, kw := range subtitleKeywords {
		if kw.pattern.MatchString(stem) {
			return kw.label
		}
	}
	return NoSub
}

func fileStem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
