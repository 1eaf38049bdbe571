package grader

import (
	"regexp"
	"sort"
	"strings"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

type marker struct {
	number string
	start  int
	end    int
}

// SegmentAnswers maps raw extracted text onto the mark scheme's question
// identifiers. A question's answer runs from its marker line to the next
// marker. Questions with no marker in the text get an empty answer; the
// per-question answers are derived and re-derivable, never authoritative.
func SegmentAnswers(rawText string, questions []model.Question) map[string]string {
	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		answers[q.Number] = ""
	}
	if strings.TrimSpace(rawText) == "" {
		return answers
	}

	var markers []marker
	for _, q := range questions {
		re := markerRegex(q.Number)
		if loc := re.FindStringIndex(rawText); loc != nil {
			markers = append(markers, marker{number: q.Number, start: loc[0], end: loc[1]})
		}
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].start < markers[j].start })

	for i, m := range markers {
		end := len(rawText)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		answers[m.number] = strings.TrimSpace(rawText[m.end:end])
	}
	return answers
}

// markerRegex matches a question identifier at the start of a line,
// optionally prefixed with "Q"/"Question" and followed by punctuation or
// whitespace so "1" never matches the start of "10)".
func markerRegex(number string) *regexp.Regexp {
	return regexp.MustCompile(`(?mi)^\s*(?:q(?:uestion)?\s*)?` + regexp.QuoteMeta(number) + `\s*(?:[).:\-]\s*|\s+)`)
}
