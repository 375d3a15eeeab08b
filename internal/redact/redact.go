// Package redact masks secrets before they reach logs and transcripts.
package redact

import (
	"io"
	"regexp"
	"sort"
	"strings"
)

// Mask replaces every secret.
const Mask = "***"

// DefaultKeys match parameter names holding secrets.
var DefaultKeys = []*regexp.Regexp{
	regexp.MustCompile(`(?i)pass(word|phrase)?$`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)private_key`),
	regexp.MustCompile(`(?i)token`),
}

// Params returns a deep copy of params with the values of matching keys
// masked. With no patterns DefaultKeys are used.
func Params(params map[string]any, patterns ...*regexp.Regexp) map[string]any {
	if len(patterns) == 0 {
		patterns = DefaultKeys
	}
	out := deepCopyMap(params)
	maskMap(out, patterns)
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(sub)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			maskMap(sub, patterns)
			continue
		}
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				break
			}
		}
	}
}

// Writer replaces known secret values in everything written through it.
// A secret split across two writes is not masked.
type Writer struct {
	next     io.Writer
	replacer *strings.Replacer
}

// NewWriter wraps w. Empty secrets are ignored.
func NewWriter(w io.Writer, secrets ...string) *Writer {
	uniq := make(map[string]bool)
	var list []string
	for _, s := range secrets {
		if s != "" && !uniq[s] {
			uniq[s] = true
			list = append(list, s)
		}
	}
	// Longer secrets first, so one containing another is masked whole.
	sort.Slice(list, func(i, j int) bool { return len(list[i]) > len(list[j]) })
	pairs := make([]string, 0, 2*len(list))
	for _, s := range list {
		pairs = append(pairs, s, Mask)
	}
	return &Writer{next: w, replacer: strings.NewReplacer(pairs...)}
}

// Write masks p and forwards it. It reports len(p) on success.
func (w *Writer) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.next, w.replacer.Replace(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
