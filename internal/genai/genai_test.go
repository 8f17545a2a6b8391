package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp       openai.ChatCompletion
	err        error
	lastParams openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.lastParams = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("  sí \n")}
	client := &Client{chat: mock}
	out, err := client.Complete(context.Background(), Request{
		Profile: ClassifierProfile,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "detector"},
			{Role: models.RoleUser, Content: "¿Quién te creó?"},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "sí" {
		t.Errorf("expected trimmed output, got %q", out)
	}
	if string(mock.lastParams.Model) != ModelAdvanced {
		t.Errorf("unexpected model %q", mock.lastParams.Model)
	}
	if mock.lastParams.MaxTokens.Value != 3 || mock.lastParams.Temperature.Value != 0.2 {
		t.Errorf("unexpected sampling params: max=%d temp=%v", mock.lastParams.MaxTokens.Value, mock.lastParams.Temperature.Value)
	}
	if len(mock.lastParams.Messages) != 2 || mock.lastParams.Messages[0].OfSystem == nil || mock.lastParams.Messages[1].OfUser == nil {
		t.Errorf("unexpected message conversion: %+v", mock.lastParams.Messages)
	}
	if mock.lastParams.ResponseFormat.OfJSONObject != nil {
		t.Error("classifier must not request JSON mode")
	}
}

func TestComplete_JSONMode(t *testing.T) {
	mock := &mockChatService{resp: completion(`{"estado":"en_proceso"}`)}
	client := &Client{chat: mock}
	if _, err := client.Complete(context.Background(), Request{Profile: AgentProfile}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.lastParams.ResponseFormat.OfJSONObject == nil {
		t.Error("agent profile must request a JSON object")
	}
	if string(mock.lastParams.Model) != ModelAgent || mock.lastParams.MaxTokens.Value != 600 {
		t.Errorf("unexpected agent params: %s %d", mock.lastParams.Model, mock.lastParams.MaxTokens.Value)
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Complete(context.Background(), Request{Profile: GeneralProfile})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.Complete(context.Background(), Request{Profile: GeneralProfile})
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithBaseURL("http://localhost:9999/v1"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}

func TestHelperProfile(t *testing.T) {
	p := HelperProfile(180)
	if p.MaxTokens != 180 || p.Temperature != 0.7 || p.JSONObject {
		t.Errorf("unexpected helper profile %+v", p)
	}
}
