package live

import "testing"

func TestClassifyExpression(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Expression
	}{
		{"celebratory_beats_positive", "That's fantastic, congratulations!", ExpressionCelebratory},
		{"question", "How are you?", ExpressionInquisitive},
		{"empathetic", "I understand, that's tough", ExpressionEmpathetic},
		{"neutral", "The sky is blue", ExpressionNeutral},
		{"positive", "What a wonderful idea", ExpressionPositive},
		{"celebratory_phrase", "Well done on the promotion", ExpressionCelebratory},
		{"positive_beats_question", "That's great, isn't it?", ExpressionPositive},
		{"empathetic_beats_question", "I'm sorry, are you alright?", ExpressionEmpathetic},
		{"case_insensitive", "CONGRATS on the new job", ExpressionCelebratory},
		{"question_trailing_space", "What time is it?  ", ExpressionInquisitive},
		{"empty", "", ExpressionNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyExpression(tt.text); got != tt.want {
				t.Errorf("ClassifyExpression(%q)=%q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
