// Package prompts renders participant-facing messages from an embedded YAML
// catalog.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"gopkg.in/yaml.v3"

	"zodiac/internal/conversation/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

const (
	KeyAskName               = "ask_name"
	KeyAskGender             = "ask_gender"
	KeyAskBirthDate          = "ask_birth_date"
	KeyAskBirthPlace         = "ask_birth_place"
	KeyAskBirthTimeChoice    = "ask_birth_time_choice"
	KeyAskBirthTime          = "ask_birth_time"
	KeyAskDeliveryWindow     = "ask_delivery_window"
	KeyConfirmSummary        = "confirm_summary"
	KeyRegistered            = "registered"
	KeyWelcomeBack           = "welcome_back"
	KeyEditMenu              = "edit_menu"
	KeyAskEditDeliveryWindow = "ask_edit_delivery_window"
	KeyEditSaved             = "edit_saved"
	KeyProfileInfo           = "profile_info"
	KeyNotRegistered         = "not_registered"
	KeyDeliveryRequested     = "delivery_requested"
	KeyDeliveryFailed        = "delivery_failed"
	KeyUnknownCommand        = "unknown_command"
	KeyScheduledHint         = "scheduled_hint"
	KeyIdleHint              = "idle_hint"
	KeyDailyNotice           = "daily_notice"
)

// EditValueKey returns the prompt key asking for a new value of field.
func EditValueKey(field string) string {
	return "ask_edit_" + field
}

type optionDef struct {
	Label  string `yaml:"label"`
	Choice string `yaml:"choice"`
}

type entryDef struct {
	Text    string        `yaml:"text"`
	Image   string        `yaml:"image"`
	Options [][]optionDef `yaml:"options"`
}

type entry struct {
	def  entryDef
	tmpl *template.Template
}

// Catalog is immutable after Load and safe for concurrent use.
type Catalog struct {
	entries map[string]entry
}

// Load parses a YAML catalog and compiles every template.
func Load(data []byte) (*Catalog, error) {
	var defs map[string]entryDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	c := &Catalog{entries: make(map[string]entry, len(defs))}
	for key, def := range defs {
		tmpl, err := template.New(key).Option("missingkey=error").Parse(def.Text)
		if err != nil {
			return nil, fmt.Errorf("compile prompt %q: %w", key, err)
		}
		c.entries[key] = entry{def: def, tmpl: tmpl}
	}
	return c, nil
}

// Default returns the embedded catalog. It panics if the embedded file is
// malformed, which is a build defect.
func Default() *Catalog {
	c, err := Load(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Render executes the prompt template for key with data.
func (c *Catalog) Render(key string, data any) (models.Prompt, error) {
	e, ok := c.entries[key]
	if !ok {
		return models.Prompt{}, fmt.Errorf("unknown prompt %q", key)
	}
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return models.Prompt{}, fmt.Errorf("render prompt %q: %w", key, err)
	}
	p := models.Prompt{Key: key, Text: buf.String(), Image: e.def.Image}
	for _, row := range e.def.Options {
		out := make([]models.Option, 0, len(row))
		for _, o := range row {
			out = append(out, models.Option{Label: o.Label, Choice: models.Choice(o.Choice)})
		}
		p.Options = append(p.Options, out)
	}
	return p, nil
}
