package analyst

import (
	"regexp"
	"strings"
)

// finalAnswerPattern matches a line that opens with a "Final Answer" marker
// followed by a colon or dash. Markdown bold around the marker is tolerated.
var finalAnswerPattern = regexp.MustCompile(`(?im)^[ \t>#*_]*final answer[*_]*[ \t]*[:\-]`)

// HasFinalAnswer reports whether planner output declares the run finished.
func HasFinalAnswer(text string) bool {
	return finalAnswerPattern.MatchString(text)
}

var escapeArtifacts = strings.NewReplacer(`\r\n`, "\n", `\n`, "\n", `\t`, "\t", `\`, "")

// CleanAnswer removes literal backslash artifacts from planner output. Escaped
// line breaks and tabs become the characters they stand for.
func CleanAnswer(text string) string {
	return escapeArtifacts.Replace(text)
}

var finalAnswerMarker = regexp.MustCompile(finalAnswerPattern.String() + `[*_]*[ \t]*`)

// AnswerBody returns the text following the first final-answer marker. Text
// without a marker is returned trimmed.
func AnswerBody(text string) string {
	loc := finalAnswerMarker.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[loc[1]:])
}
