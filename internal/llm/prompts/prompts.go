// Package prompts builds the system prompts for the marking and
// structuring calls. Student text is sanitized before it is embedded so
// answers cannot smuggle instructions into the prompt.
package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// BuildMarkingPrompt builds the system prompt for marking one answer
// against its mark-scheme question.
func BuildMarkingPrompt(q model.Question, rules model.MarkingRules) string {
	var sb strings.Builder
	sb.WriteString("You are an A-level chemistry examiner. Mark the student's answer against the mark scheme below.\n\n")
	sb.WriteString("QUESTION " + q.Number + " (" + string(q.Type) + ")\n")
	fmt.Fprintf(&sb, "MAX MARKS: %d\n\n", q.MaxMarks)

	if len(q.Points) > 0 {
		sb.WriteString("MARKING POINTS:\n")
		for _, p := range q.Points {
			fmt.Fprintf(&sb, "- [%s] (%d marks) %s\n", p.ID, p.Marks, p.Criteria)
			if len(p.Keywords) > 0 {
				sb.WriteString("  keywords: " + strings.Join(p.Keywords, ", ") + "\n")
			}
		}
		sb.WriteString("\n")
	}
	if len(q.AcceptedAnswers) > 0 {
		sb.WriteString("ACCEPTED ANSWERS: " + strings.Join(q.AcceptedAnswers, "; ") + "\n\n")
	}
	if q.CanonicalEquation != "" {
		sb.WriteString("CORRECT EQUATION: " + q.CanonicalEquation + "\n\n")
	}

	sb.WriteString("RULES:\n")
	if rules.ListPenalty {
		sb.WriteString("- Apply the list penalty: a correct answer mixed with an incorrect one in a list earns no mark.\n")
	}
	if rules.ErrorCarriedForward {
		sb.WriteString("- Apply error carried forward: credit later steps consistent with an earlier mistake.\n")
	}
	sb.WriteString("- Never award more than the maximum marks.\n")

	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"score": <integer 0 to max marks>, "max_marks": <max marks>, "feedback": "<brief feedback>", "points": [{"id": "<point id>", "awarded": <true/false>, "reason": "<why>"}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// BuildStructuringPrompt builds the system prompt that turns raw extracted
// mark-scheme text into the structured JSON contract.
func BuildStructuringPrompt(hints model.PaperHints) string {
	var sb strings.Builder
	sb.WriteString("You convert raw OCR text of an A-level chemistry mark scheme into structured JSON.\n\n")
	sb.WriteString("Question types: multiple_choice, calculation, chemical_equation, short_answer, extended_response.\n")
	sb.WriteString("Preserve question order and identifiers exactly as printed (e.g. 1a, 2b(ii)).\n")
	if hints.ExpectedQuestions > 0 {
		fmt.Fprintf(&sb, "The paper is expected to have about %d questions.\n", hints.ExpectedQuestions)
	}
	if hints.ExpectedTotalMarks > 0 {
		fmt.Fprintf(&sb, "The paper is expected to total about %d marks.\n", hints.ExpectedTotalMarks)
	}

	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"rules": {"list_penalty": <bool>, "error_carried_forward": <bool>, "spelling_tolerance": "strict|moderate|lenient"}, `)
	sb.WriteString(`"questions": [{"number": "<id>", "type": "<type>", "max_marks": <int>, `)
	sb.WriteString(`"accepted_answers": ["..."], "canonical_equation": "<equation or empty>", `)
	sb.WriteString(`"balance_required": <bool>, "state_symbols_required": <bool>, `)
	sb.WriteString(`"points": [{"id": "<id>", "marks": <int>, "criteria": "<text>", "keywords": ["..."], "acceptable_answers": ["..."]}]}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// SanitizeAnswer strips prompt-injection markers from student text and
// truncates oversized answers.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
