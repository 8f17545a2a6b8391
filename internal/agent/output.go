package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// ErrInvalidOutput wraps every schema violation in a model answer.
var ErrInvalidOutput = errors.New("agent: invalid model output")

// Output states.
const (
	StateInProgress = "en_proceso"
	StateFinalized  = "finalizado"
)

// Top-level and datos keys of the model answer.
const (
	keyMessage = "mensaje_respuesta"
	keyData    = "datos"
	keyState   = "estado"

	keyCampaignName    = "campaign_name"
	keyTitles          = "titles"
	keyDescriptions    = "descriptions"
	keyKeywords        = "keywords"
	keyRequestedBudget = "requested_budget"
)

// fieldColumns maps datos keys to record columns.
var fieldColumns = map[string]string{
	keyCampaignName:    models.ColCampaignName,
	keyTitles:          models.ColTitles,
	keyDescriptions:    models.ColDescriptions,
	keyKeywords:        models.ColKeywords,
	keyRequestedBudget: models.ColRequestedBudget,
}

// Output is a validated model answer. Fields holds normalized column values;
// empty fields are omitted.
type Output struct {
	Message string
	State   string
	Fields  map[string]string
}

// Finalized reports whether the model declared the campaign complete.
func (o Output) Finalized() bool { return o.State == StateFinalized }

// ParseOutput validates raw against the answer schema and normalizes datos
// into record column values. Any deviation fails the whole answer.
func ParseOutput(raw string) (Output, error) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return Output{}, fmt.Errorf("%w: not valid JSON", ErrInvalidOutput)
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return Output{}, fmt.Errorf("%w: top level is not an object", ErrInvalidOutput)
	}
	if err := exactKeys(root, map[string]bool{keyMessage: true, keyData: true, keyState: true}, true); err != nil {
		return Output{}, err
	}

	msg := root.Get(keyMessage)
	if msg.Type != gjson.String {
		return Output{}, fmt.Errorf("%w: %s must be a string", ErrInvalidOutput, keyMessage)
	}
	state := root.Get(keyState)
	if state.Type != gjson.String || (state.Str != StateInProgress && state.Str != StateFinalized) {
		return Output{}, fmt.Errorf("%w: unknown %s %q", ErrInvalidOutput, keyState, state.Raw)
	}
	data := root.Get(keyData)
	if !data.IsObject() {
		return Output{}, fmt.Errorf("%w: %s must be an object", ErrInvalidOutput, keyData)
	}
	allowed := make(map[string]bool, len(fieldColumns))
	for k := range fieldColumns {
		allowed[k] = true
	}
	if err := exactKeys(data, allowed, false); err != nil {
		return Output{}, err
	}

	out := Output{Message: strings.TrimSpace(msg.Str), State: state.Str, Fields: map[string]string{}}
	var verr error
	data.ForEach(func(key, value gjson.Result) bool {
		v, err := normalize(key.Str, value)
		if err != nil {
			verr = err
			return false
		}
		if v != "" {
			out.Fields[fieldColumns[key.Str]] = v
		}
		return true
	})
	if verr != nil {
		return Output{}, verr
	}

	if out.Finalized() {
		for _, col := range models.CampaignInputColumns {
			if out.Fields[col] == "" {
				return Output{}, fmt.Errorf("%w: finalized answer lacks %q", ErrInvalidOutput, col)
			}
		}
	}
	return out, nil
}

// exactKeys rejects unknown and repeated keys. With required set, every
// allowed key must be present.
func exactKeys(obj gjson.Result, allowed map[string]bool, required bool) error {
	seen := make(map[string]bool, len(allowed))
	var err error
	obj.ForEach(func(key, _ gjson.Result) bool {
		switch {
		case !allowed[key.Str]:
			err = fmt.Errorf("%w: unexpected key %q", ErrInvalidOutput, key.Str)
		case seen[key.Str]:
			err = fmt.Errorf("%w: repeated key %q", ErrInvalidOutput, key.Str)
		}
		seen[key.Str] = true
		return err == nil
	})
	if err != nil {
		return err
	}
	if required && len(seen) != len(allowed) {
		return fmt.Errorf("%w: missing top-level keys", ErrInvalidOutput)
	}
	return nil
}

// normalize converts one datos value to its column form. Null means absent.
func normalize(key string, v gjson.Result) (string, error) {
	if v.Type == gjson.Null {
		return "", nil
	}
	switch key {
	case keyCampaignName:
		if v.Type != gjson.String {
			return "", fmt.Errorf("%w: %s must be a string", ErrInvalidOutput, key)
		}
		return strings.TrimSpace(v.Str), nil
	case keyRequestedBudget:
		switch v.Type {
		case gjson.String:
			return strings.TrimSpace(v.Str), nil
		case gjson.Number:
			return v.Raw, nil
		}
		return "", fmt.Errorf("%w: %s must be a string or number", ErrInvalidOutput, key)
	}

	sep := "\n"
	if key == keyKeywords {
		sep = ", "
	}
	if v.Type == gjson.String {
		return strings.TrimSpace(v.Str), nil
	}
	if !v.IsArray() {
		return "", fmt.Errorf("%w: %s must be a string or list of strings", ErrInvalidOutput, key)
	}
	var items []string
	for _, it := range v.Array() {
		if it.Type != gjson.String {
			return "", fmt.Errorf("%w: %s contains a non-string item", ErrInvalidOutput, key)
		}
		if s := strings.TrimSpace(it.Str); s != "" {
			items = append(items, s)
		}
	}
	return strings.Join(items, sep), nil
}
