package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

func request(system, user string) genai.Request {
	return genai.Request{Messages: []models.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	}}
}

func TestScriptedCompleter_Rules(t *testing.T) {
	boom := errors.New("boom")
	sc := NewScriptedCompleter().
		On("detector", "creó", "sí").
		Fail("detector", "falla", boom).
		On("agente", "", `{"estado":"en_proceso"}`)
	ctx := context.Background()

	if got, _ := sc.Complete(ctx, request("detector de intenciones", "¿Quién te creó?")); got != "sí" {
		t.Errorf("expected sí, got %q", got)
	}
	if _, err := sc.Complete(ctx, request("detector", "esto falla")); !errors.Is(err, boom) {
		t.Errorf("expected scripted error, got %v", err)
	}
	if got, _ := sc.Complete(ctx, request("un agente", "lo que sea")); got != `{"estado":"en_proceso"}` {
		t.Errorf("unexpected agent reply %q", got)
	}
	if got, _ := sc.Complete(ctx, request("otro", "hola")); got != "no" {
		t.Errorf("expected default reply, got %q", got)
	}
	if n := len(sc.Calls()); n != 4 {
		t.Errorf("expected 4 calls, got %d", n)
	}
	if n := len(sc.CallsMatching("detector")); n != 2 {
		t.Errorf("expected 2 detector calls, got %d", n)
	}
}

func TestScriptedCompleter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScriptedCompleter().Complete(ctx, request("a", "b")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMockSender(t *testing.T) {
	m := &MockSender{}
	if err := m.SendMessage(context.Background(), "591", "hola"); err != nil {
		t.Fatal(err)
	}
	if got := m.Messages(); len(got) != 1 || got[0].Body != "hola" {
		t.Errorf("unexpected messages %+v", got)
	}
	m.Err = errors.New("down")
	if err := m.SendMessage(context.Background(), "591", "x"); err == nil {
		t.Error("expected configured error")
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "matching status")
}

func TestCreateHTTPRequestAndJSONField(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/webhook", WebhookPayload("591", "wamid.1", "hola"))
	if req.Header.Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"error":"Datos de entrada no válidos"}`)
	AssertJSONField(t, rr, "error", "Datos de entrada no válidos")
}
