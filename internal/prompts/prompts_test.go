package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogue(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default catalogue invalid: %v", err)
	}
	want := []string{"creador", "que_es_google_ads", "bolivianismo", "costo_google_ads"}
	if len(c.Detectors) != len(want) {
		t.Fatalf("expected %d detectors, got %d", len(want), len(c.Detectors))
	}
	for i, name := range want {
		if c.Detectors[i].Name != name {
			t.Errorf("detector %d: expected %s, got %s", i, name, c.Detectors[i].Name)
		}
	}
	if d, _ := c.Detector("creador"); d.HelperMaxTokens != 180 {
		t.Errorf("creador helper max tokens = %d, want 180", d.HelperMaxTokens)
	}
	if d, _ := c.Detector("costo_google_ads"); d.HelperMaxTokens != 220 {
		t.Errorf("costo helper max tokens = %d, want 220", d.HelperMaxTokens)
	}
	if !strings.HasPrefix(c.Welcome, "¡Hola! 😊") || !strings.HasSuffix(c.Welcome, "¿cómo se llama tu empresa?") {
		t.Errorf("unexpected welcome text %q", c.Welcome)
	}
	if c.General.MaxLines != 3 || c.General.MaxWords != 45 {
		t.Errorf("unexpected general limits %+v", c.General)
	}
}

func TestRenderPlaceholders(t *testing.T) {
	c := Default()
	got := c.AgentSystem("Datos actuales en la hoja para el número 591:")
	if strings.Contains(got, PlaceholderDatos) || !strings.Contains(got, "Datos actuales en la hoja para el número 591:\nAhora recibirás") {
		t.Errorf("agent summary not substituted correctly")
	}
	gen := c.GeneralSystem("user: hola")
	if strings.Contains(gen, PlaceholderHistorial) || !strings.Contains(gen, "historial como este: user: hola.") {
		t.Errorf("general history not substituted correctly")
	}
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	override := `
welcome: "Hola de prueba"
detectors:
  - name: creador
    fallback: "Otro creador"
`
	if err := os.WriteFile(path, []byte(override), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Welcome != "Hola de prueba" {
		t.Errorf("welcome not overridden: %q", c.Welcome)
	}
	if c.Agent.FinalizedReply == "" {
		t.Error("missing keys must keep defaults")
	}
	if len(c.Detectors) != 1 {
		t.Fatalf("override replaces the detector list, got %d", len(c.Detectors))
	}
	d := c.Detectors[0]
	if d.Fallback != "Otro creador" || d.Classifier == "" || d.HelperMaxTokens != 180 {
		t.Errorf("detector defaults not filled: %+v", d)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("detectors:\n  - name: nuevo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for detector without texts")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load("")
	if err != nil || len(c.Detectors) != 4 {
		t.Fatalf("expected defaults, got %v", err)
	}
}
