// Package prompts loads the conversational texts: the welcome message, the
// agent and router system prompts, and the intent detector catalogue.
//
// A default catalogue is embedded in the binary. An optional YAML file can
// override any key; keys absent from the override keep their default value.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

// Placeholders substituted at render time.
const (
	PlaceholderDatos     = "{datos}"
	PlaceholderHistorial = "{historial}"
)

// ErrNoDetectors is returned when a catalogue defines no detectors.
var ErrNoDetectors = errors.New("prompts: catalogue defines no detectors")

// Agent holds the campaign agent texts.
type Agent struct {
	System          string `yaml:"system"`
	SummaryHeader   string `yaml:"summary_header"`
	EmptyValue      string `yaml:"empty_value"`
	FinalizedReply  string `yaml:"finalized_reply"`
	EmptyReply      string `yaml:"empty_reply"`
	ParseErrorReply string `yaml:"parse_error_reply"`
	ErrorReply      string `yaml:"error_reply"`
}

// Router holds the multi-intent fusion texts.
type Router struct {
	FusionSystem     string `yaml:"fusion_system"`
	FusionErrorReply string `yaml:"fusion_error_reply"`
}

// General holds the free-form reply texts and trimming limits.
type General struct {
	System     string `yaml:"system"`
	ErrorReply string `yaml:"error_reply"`
	MaxLines   int    `yaml:"max_lines"`
	MaxWords   int    `yaml:"max_words"`
}

// Detector is one intent: a yes/no classifier prompt, the prompt used to
// write the contextual reply, and a fixed reply used when that call fails.
type Detector struct {
	Name            string `yaml:"name"`
	Classifier      string `yaml:"classifier"`
	Helper          string `yaml:"helper"`
	HelperMaxTokens int64  `yaml:"helper_max_tokens"`
	Fallback        string `yaml:"fallback"`
}

// Catalog is the full set of conversational texts.
type Catalog struct {
	Welcome   string     `yaml:"welcome"`
	Agent     Agent      `yaml:"agent"`
	Router    Router     `yaml:"router"`
	General   General    `yaml:"general"`
	Detectors []Detector `yaml:"detectors"`
}

// Default returns the embedded catalogue.
func Default() *Catalog {
	var c Catalog
	if err := yaml.Unmarshal(defaultYAML, &c); err != nil {
		panic(fmt.Sprintf("prompts: embedded catalogue is invalid: %v", err))
	}
	return &c
}

// Load returns the embedded catalogue overlaid with the file at path.
// An empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("prompts: parse %s: %w", path, err)
	}
	c.fillDefaults(Default())
	if err := c.Validate(); err != nil {
		return nil, err
	}
	slog.Info("prompts.Load: catalogue loaded", "path", path, "detectors", len(c.Detectors))
	return c, nil
}

// fillDefaults restores empty detector fields from the default detector of
// the same name. Overrides replace the detector list as a whole.
func (c *Catalog) fillDefaults(def *Catalog) {
	byName := make(map[string]Detector, len(def.Detectors))
	for _, d := range def.Detectors {
		byName[d.Name] = d
	}
	for i := range c.Detectors {
		d := &c.Detectors[i]
		base, ok := byName[d.Name]
		if !ok {
			continue
		}
		if d.Classifier == "" {
			d.Classifier = base.Classifier
		}
		if d.Helper == "" {
			d.Helper = base.Helper
		}
		if d.HelperMaxTokens == 0 {
			d.HelperMaxTokens = base.HelperMaxTokens
		}
		if d.Fallback == "" {
			d.Fallback = base.Fallback
		}
	}
	if c.General.MaxLines <= 0 {
		c.General.MaxLines = def.General.MaxLines
	}
	if c.General.MaxWords <= 0 {
		c.General.MaxWords = def.General.MaxWords
	}
}

// Validate checks that every detector is usable.
func (c *Catalog) Validate() error {
	if len(c.Detectors) == 0 {
		return ErrNoDetectors
	}
	seen := make(map[string]bool, len(c.Detectors))
	for _, d := range c.Detectors {
		if d.Name == "" {
			return errors.New("prompts: detector without name")
		}
		if seen[d.Name] {
			return fmt.Errorf("prompts: duplicate detector %q", d.Name)
		}
		seen[d.Name] = true
		if d.Classifier == "" || d.Helper == "" || d.Fallback == "" {
			return fmt.Errorf("prompts: detector %q is missing texts", d.Name)
		}
	}
	return nil
}

// Detector returns the detector with the given name.
func (c *Catalog) Detector(name string) (Detector, bool) {
	for _, d := range c.Detectors {
		if d.Name == name {
			return d, true
		}
	}
	return Detector{}, false
}

// AgentSystem renders the agent system prompt around the field summary.
func (c *Catalog) AgentSystem(summary string) string {
	return strings.ReplaceAll(c.Agent.System, PlaceholderDatos, summary)
}

// GeneralSystem renders the general reply system prompt around a history excerpt.
func (c *Catalog) GeneralSystem(historial string) string {
	return strings.ReplaceAll(c.General.System, PlaceholderHistorial, historial)
}
