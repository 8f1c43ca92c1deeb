package service

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	slugStrip    = regexp.MustCompile(`[^\p{L}\p{N}_\-\s]`)
	slugCollapse = regexp.MustCompile(`[\s\-]+`)
)

// Slugify 保留 unicode 字母/数字/下划线，空白和连字符折叠为单个 "-"
func Slugify(text string) string {
	s := norm.NFC.String(text)
	s = slugStrip.ReplaceAllString(s, "")
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}
