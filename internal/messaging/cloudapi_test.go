package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCloudAPIService_SendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.X"}]}`))
	}))
	defer srv.Close()

	svc, err := NewCloudAPIService(WithAccessToken("tok"), WithPhoneNumberID("12345"), WithGraphBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SendMessage(context.Background(), "59171234567", "¡Hola!"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/12345/messages" || gotAuth != "Bearer tok" {
		t.Errorf("unexpected request path=%s auth=%s", gotPath, gotAuth)
	}
	text, _ := gotBody["text"].(map[string]interface{})
	if gotBody["messaging_product"] != "whatsapp" || gotBody["to"] != "59171234567" || gotBody["type"] != "text" || text["body"] != "¡Hola!" {
		t.Errorf("unexpected body %v", gotBody)
	}
}

func TestCloudAPIService_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
	}))
	defer srv.Close()

	svc, _ := NewCloudAPIService(WithAccessToken("bad"), WithPhoneNumberID("1"), WithGraphBaseURL(srv.URL))
	err := svc.SendMessage(context.Background(), "59171234567", "x")
	if err == nil || !strings.Contains(err.Error(), "Invalid OAuth access token") || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected error carrying status and body, got %v", err)
	}
}

func TestCloudAPIService_Config(t *testing.T) {
	if _, err := NewCloudAPIService(WithAccessToken("tok")); err == nil {
		t.Error("expected error without phone number id")
	}
	svc, _ := NewCloudAPIService(WithAccessToken("tok"), WithPhoneNumberID("1"))
	if err := svc.SendMessage(context.Background(), "12", "x"); err == nil {
		t.Error("expected recipient validation error")
	}
}

func TestCanonicalizePhone(t *testing.T) {
	if got, err := CanonicalizePhone("+591 (71) 234-567"); err != nil || got != "59171234567" {
		t.Errorf("got %q, %v", got, err)
	}
	for _, bad := range []string{"", "abc", "123"} {
		if _, err := CanonicalizePhone(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
