package generation

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// TruncateRunes 按字符数截断，超出时追加省略号
func TruncateRunes(text string, max int) string {
	if text == "" || max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + ellipsis
}

// CutRunes 按字符数截断，不追加标记
func CutRunes(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}

// SingleLine 折叠换行与连续空白
func SingleLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// CountWords 以空白分隔统计词数
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// sentenceEndings 视为句子结束的标记
var sentenceEndings = []string{". ", "! ", "? ", ".\"", "!\"", "?\"", ".\n", "!\n", "?\n"}

// EnsureCompleteSentence 截掉末尾不完整的句子
//
// 已以句末标点（可带闭合引号）结尾的文本原样返回，结果满足幂等。
// 找不到句子结束位置时返回去除首尾空白后的原文。
func EnsureCompleteSentence(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return trimmed
	}
	if endsWithTerminal(trimmed) {
		return trimmed
	}

	cut := -1
	for _, ending := range sentenceEndings {
		if idx := strings.LastIndex(trimmed, ending); idx >= 0 {
			// 保留标点与引号，丢弃尾随空白
			end := idx + len(strings.TrimRight(ending, " \n"))
			if end > cut {
				cut = end
			}
		}
	}
	if cut <= 0 {
		return trimmed
	}
	return strings.TrimSpace(trimmed[:cut])
}

func endsWithTerminal(s string) bool {
	s = strings.TrimRight(s, "\"'”’")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
