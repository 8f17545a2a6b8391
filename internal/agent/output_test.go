package agent

import (
	"errors"
	"testing"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

func TestParseOutput_Valid(t *testing.T) {
	raw := `{
		"mensaje_respuesta": " ¿Cómo se llama tu negocio? ",
		"datos": {"campaign_name": "", "titles": [], "descriptions": "", "keywords": null, "requested_budget": 20},
		"estado": "en_proceso"
	}`
	out, err := ParseOutput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Message != "¿Cómo se llama tu negocio?" || out.Finalized() {
		t.Errorf("unexpected output %+v", out)
	}
	if len(out.Fields) != 1 || out.Fields[models.ColRequestedBudget] != "20" {
		t.Errorf("expected only the numeric budget, got %v", out.Fields)
	}
}

func TestParseOutput_Normalization(t *testing.T) {
	raw := `{"mensaje_respuesta":"x","estado":"finalizado","datos":{
		"campaign_name":" Pahuichi Doña Rosa ",
		"titles":[" A","B ","C"],
		"descriptions":["Desc uno","Desc dos"],
		"keywords":["salteñas la paz","salteñas"],
		"requested_budget":"5 Bs por día"}}`
	out, err := ParseOutput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		models.ColCampaignName:    "Pahuichi Doña Rosa",
		models.ColTitles:          "A\nB\nC",
		models.ColDescriptions:    "Desc uno\nDesc dos",
		models.ColKeywords:        "salteñas la paz, salteñas",
		models.ColRequestedBudget: "5 Bs por día",
	}
	for col, v := range want {
		if out.Fields[col] != v {
			t.Errorf("%s: got %q, want %q", col, out.Fields[col], v)
		}
	}
}

func TestParseOutput_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":            `Claro, aquí va`,
		"array":               `[]`,
		"missing estado":      `{"mensaje_respuesta":"x","datos":{}}`,
		"extra key":           `{"mensaje_respuesta":"x","datos":{},"estado":"en_proceso","extra":1}`,
		"unknown estado":      `{"mensaje_respuesta":"x","datos":{},"estado":"finalized"}`,
		"message not string":  `{"mensaje_respuesta":1,"datos":{},"estado":"en_proceso"}`,
		"datos not object":    `{"mensaje_respuesta":"x","datos":[],"estado":"en_proceso"}`,
		"unknown datos key":   `{"mensaje_respuesta":"x","datos":{"city":"La Paz"},"estado":"en_proceso"}`,
		"numeric title item":  `{"mensaje_respuesta":"x","datos":{"titles":["a",2]},"estado":"en_proceso"}`,
		"object keywords":     `{"mensaje_respuesta":"x","datos":{"keywords":{"a":1}},"estado":"en_proceso"}`,
		"bool budget":         `{"mensaje_respuesta":"x","datos":{"requested_budget":true},"estado":"en_proceso"}`,
		"repeated key":        `{"mensaje_respuesta":"x","mensaje_respuesta":"y","datos":{},"estado":"en_proceso"}`,
		"finalized incomplete": `{"mensaje_respuesta":"x","datos":{"campaign_name":"A","titles":"a|b|c"},"estado":"finalizado"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseOutput(raw); !errors.Is(err, ErrInvalidOutput) {
				t.Errorf("expected ErrInvalidOutput, got %v", err)
			}
		})
	}
}
