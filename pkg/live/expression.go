package live

import "strings"

// Expression is the coarse emotional tag derived from model output text.
type Expression string

const (
	ExpressionNeutral     Expression = "neutral"
	ExpressionPositive    Expression = "positive"
	ExpressionInquisitive Expression = "inquisitive"
	ExpressionEmpathetic  Expression = "empathetic"
	ExpressionCelebratory Expression = "celebratory"
)

// Keyword tiers for ClassifyExpression. Checked in priority order so
// celebratory sentiment beats a merely positive word in the same sentence.
var (
	celebratoryWords = []string{
		"congratulations", "congrats", "hooray", "woohoo",
		"well done", "bravo", "let's celebrate",
	}
	positiveWords = []string{
		"fantastic", "wonderful", "amazing", "awesome", "excellent",
		"great", "glad", "happy", "love", "delighted",
	}
	empatheticWords = []string{
		"sorry", "tough", "difficult", "understand", "unfortunately",
		"that's hard", "my sympathies", "condolences",
	}
)

// ClassifyExpression maps accumulated output text to an expression.
// Matching is a case-insensitive substring test; first tier hit wins, and a
// trailing question mark marks otherwise-unmatched text as inquisitive.
func ClassifyExpression(text string) Expression {
	t := strings.ToLower(text)

	for _, w := range celebratoryWords {
		if strings.Contains(t, w) {
			return ExpressionCelebratory
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(t, w) {
			return ExpressionPositive
		}
	}
	for _, w := range empatheticWords {
		if strings.Contains(t, w) {
			return ExpressionEmpathetic
		}
	}
	if strings.HasSuffix(strings.TrimSpace(t), "?") {
		return ExpressionInquisitive
	}
	return ExpressionNeutral
}
