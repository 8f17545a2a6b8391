package flow

import (
	"strings"
	"testing"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

func TestTrimReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "Hola 😊", "Hola 😊"},
		{"blank lines dropped", "uno\n\n  \ndos", "uno\ndos"},
		{"three lines kept", "a\nb\nc\nd\ne", "a\nb\nc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimReply(tt.in, 3, 45); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrimReply_WordLimit(t *testing.T) {
	in := strings.Repeat("palabra ", 30) + "\n" + strings.Repeat("otra ", 30)
	got := TrimReply(in, 3, 45)
	if n := len(strings.Fields(got)); n != 45 {
		t.Errorf("expected 45 words, got %d", n)
	}
	if strings.Contains(got, "\n") {
		t.Error("word-trimmed reply is space-joined")
	}
}

func TestExcerpt(t *testing.T) {
	h := []models.Message{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
		{Role: models.RoleUser, Content: "c"},
		{Role: models.RoleAssistant, Content: "d"},
	}
	if got := Excerpt(h, 3); got != "assistant: b\nuser: c\nassistant: d" {
		t.Errorf("unexpected excerpt %q", got)
	}
}
