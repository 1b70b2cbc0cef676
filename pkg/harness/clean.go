package harness

import (
	"regexp"
	"strings"

	"github.com/rhuss/codegate/pkg/api"
)

var (
	fencedBlock   = regexp.MustCompile("(?s)```(?:python)?\\s*\\n(.*?)\\n```")
	leadingFence  = regexp.MustCompile("^\\s*```(?:python)?\\s*")
	trailingFence = regexp.MustCompile("```\\s*$")

	chattyLines = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(here's|here is|the following is|please confirm|certainly|of course|i've prepared|please find below|let me know)\b.*$`),
		regexp.MustCompile(`^\s*\.\.\.\s*$`),
	}
)

// CleanCode extracts runnable code from text produced by a language model.
// A fenced block wins when present; otherwise stray fences and
// conversational lines are removed. An empty result is rejected.
func CleanCode(raw string) (string, error) {
	var cleaned string
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		cleaned = strings.TrimSpace(m[1])
	} else {
		code := leadingFence.ReplaceAllString(raw, "")
		code = trailingFence.ReplaceAllString(code, "")

		var kept []string
		for _, line := range strings.Split(strings.TrimSpace(code), "\n") {
			if !isChatty(line) {
				kept = append(kept, line)
			}
		}
		cleaned = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	if cleaned == "" {
		return "", api.NewRejectedProposalError("no valid Python code found after cleaning the input")
	}
	return cleaned, nil
}

func isChatty(line string) bool {
	for _, re := range chattyLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
