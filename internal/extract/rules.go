// Package extract pulls candidate order fields out of raw events using
// an externally-loaded, ordered rule table.
//
// Rules are the only thing that needs touching when the observed app
// ships a new UI: the walk, the gate, and the first-match-wins policy
// never change. Rule files may be TOML, YAML, or JSON, chosen by file
// extension, and are hot-reloaded by the daemon when they change on disk.
package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"offerwatchd/internal/event"
)

// Text rule scopes. A text rule runs against the named part of a
// notification, or against the flattened tree text of a snapshot.
const (
	ScopeAny   = "any"
	ScopeTitle = "title"
	ScopeBody  = "body"
)

// NodeRuleConfig is the serialized form of a node rule. All patterns
// are optional; an empty pattern matches every node.
type NodeRuleConfig struct {
	// Field is the wire name of the target field, e.g. "fare".
	Field string `toml:"field" json:"field" yaml:"field"`

	// ViewID is a regexp matched against the node's resource-id.
	ViewID string `toml:"view_id,omitempty" json:"view_id,omitempty" yaml:"view_id,omitempty"`

	// Class is a regexp matched against the node's widget class.
	Class string `toml:"class,omitempty" json:"class,omitempty" yaml:"class,omitempty"`

	// Text is a regexp matched against the node's label. When it
	// contains a capture group the first group becomes the extracted
	// value, otherwise the whole label does.
	Text string `toml:"text,omitempty" json:"text,omitempty" yaml:"text,omitempty"`
}

// TextRuleConfig is the serialized form of a flat-text rule.
type TextRuleConfig struct {
	Field string `toml:"field" json:"field" yaml:"field"`

	// Scope selects which notification part the rule runs against.
	// Defaults to "any". Snapshot flat text only runs "any" rules.
	Scope string `toml:"scope,omitempty" json:"scope,omitempty" yaml:"scope,omitempty"`

	// Pattern is the regexp; the first capture group (or the whole
	// match) becomes the extracted value.
	Pattern string `toml:"pattern" json:"pattern" yaml:"pattern"`
}

// RulesConfig is the on-disk rule file.
type RulesConfig struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	// Packages is the allowlist of observed app package names. Events
	// from any other package are ignored outright.
	Packages []string `toml:"packages" json:"packages" yaml:"packages"`

	// OfferHints gate extraction: at least one hint must occur in the
	// event's flattened text before the rule table runs.
	OfferHints []string `toml:"offer_hints" json:"offer_hints" yaml:"offer_hints"`

	// NoisePhrases mark status/promo notifications to drop unseen.
	NoisePhrases []string `toml:"noise_phrases" json:"noise_phrases" yaml:"noise_phrases"`

	NodeRules []NodeRuleConfig `toml:"node_rules" json:"node_rules" yaml:"node_rules"`
	TextRules []TextRuleConfig `toml:"text_rules" json:"text_rules" yaml:"text_rules"`
}

// nodeRule is a compiled node rule.
type nodeRule struct {
	field  event.Field
	viewID *regexp.Regexp
	class  *regexp.Regexp
	text   *regexp.Regexp
}

// textRule is a compiled flat-text rule.
type textRule struct {
	field   event.Field
	scope   string
	pattern *regexp.Regexp
}

// RuleSet is a compiled, immutable rule table. Order is significant:
// within each table the first rule that fires for a field wins.
type RuleSet struct {
	packages  map[string]struct{}
	hints     []string
	noise     []string
	nodeRules []nodeRule
	textRules []textRule
}

// Compile validates cfg and compiles its patterns, preserving order.
func Compile(cfg *RulesConfig) (*RuleSet, error) {
	rs := &RuleSet{packages: make(map[string]struct{}, len(cfg.Packages))}
	for _, p := range cfg.Packages {
		rs.packages[p] = struct{}{}
	}
	for _, h := range cfg.OfferHints {
		rs.hints = append(rs.hints, strings.ToLower(h))
	}
	for _, n := range cfg.NoisePhrases {
		rs.noise = append(rs.noise, strings.ToLower(n))
	}

	for i, rc := range cfg.NodeRules {
		f, err := event.ParseField(rc.Field)
		if err != nil {
			return nil, fmt.Errorf("node_rules[%d]: %w", i, err)
		}
		nr := nodeRule{field: f}
		if nr.viewID, err = compilePattern(rc.ViewID); err != nil {
			return nil, fmt.Errorf("node_rules[%d].view_id: %w", i, err)
		}
		if nr.class, err = compilePattern(rc.Class); err != nil {
			return nil, fmt.Errorf("node_rules[%d].class: %w", i, err)
		}
		if nr.text, err = compilePattern(rc.Text); err != nil {
			return nil, fmt.Errorf("node_rules[%d].text: %w", i, err)
		}
		if nr.viewID == nil && nr.class == nil && nr.text == nil {
			return nil, fmt.Errorf("node_rules[%d]: rule matches every node", i)
		}
		rs.nodeRules = append(rs.nodeRules, nr)
	}

	for i, rc := range cfg.TextRules {
		f, err := event.ParseField(rc.Field)
		if err != nil {
			return nil, fmt.Errorf("text_rules[%d]: %w", i, err)
		}
		scope := rc.Scope
		if scope == "" {
			scope = ScopeAny
		}
		switch scope {
		case ScopeAny, ScopeTitle, ScopeBody:
		default:
			return nil, fmt.Errorf("text_rules[%d]: unknown scope %q", i, rc.Scope)
		}
		if rc.Pattern == "" {
			return nil, fmt.Errorf("text_rules[%d]: pattern is required", i)
		}
		p, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("text_rules[%d].pattern: %w", i, err)
		}
		rs.textRules = append(rs.textRules, textRule{field: f, scope: scope, pattern: p})
	}

	return rs, nil
}

func compilePattern(s string) (*regexp.Regexp, error) {
	if s == "" {
		return nil, nil
	}
	return regexp.Compile(s)
}

// LoadRules reads and compiles a rule file. The encoding is chosen by
// extension: .toml, .yaml/.yml, or .json.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var cfg RulesConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("unsupported rules format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", filepath.Base(path), err)
	}

	rs, err := Compile(&cfg)
	if err != nil {
		return nil, fmt.Errorf("compile rules %s: %w", filepath.Base(path), err)
	}
	return rs, nil
}

// DefaultRules returns the built-in rule table tuned for the DiDi
// driver app (Spanish-locale Colombia build, plus English fallbacks).
// Order matters: more specific patterns come first.
func DefaultRules() *RuleSet {
	rs, err := Compile(DefaultRulesConfig())
	if err != nil {
		// The built-in table is covered by tests; a compile failure
		// here is a programming error.
		panic(err)
	}
	return rs
}

// DefaultRulesConfig returns the serializable form of the built-in
// rule table, used to seed a rules file on first run.
func DefaultRulesConfig() *RulesConfig {
	return &RulesConfig{
		Version: 1,
		Packages: []string{
			"com.didiglobal.driver",
			"com.xiaojukeji.driver",
			"com.sdu.didi.psdriver",
		},
		OfferHints: []string{
			"nueva solicitud", "nueva orden", "nueva oferta",
			"solicitud de viaje", "pedido", "viaje",
			"recogida", "pickup", "new request", "new order",
		},
		NoisePhrases: []string{
			"estás conectado", "estas conectado",
			"espera una solicitud de viaje",
			"tienes un mensaje nuevo",
			"multiplica tus ganancias",
			"promoción", "promo", "recompensa", "bono", "bonificación",
			"consejos", "tips",
		},
		NodeRules: []NodeRuleConfig{
			{Field: "fare", ViewID: `(?i)(fare|price|amount)`},
			{Field: "pickup_address", ViewID: `(?i)(pickup|origin|start)_?addr`},
			{Field: "dropoff_address", ViewID: `(?i)(dropoff|dest|end)_?addr`},
			{Field: "order_id", ViewID: `(?i)order_?id`},
			{Field: "expiry_seconds", ViewID: `(?i)(count_?down|timer)`, Text: `(\d{1,3})`},
		},
		TextRules: []TextRuleConfig{
			{Field: "fare", Pattern: `(?i)(?:cop|\$)\s*([0-9][0-9.,]*)`},
			{Field: "fare", Pattern: `(?:^|\D)(\d{5,})(?:\D|$)`},
			{Field: "eta", Pattern: `(?i)(\d+)\s*(?:min|mins|minutos)\b`},
			{Field: "pickup_distance", Pattern: `(?i)(?:recogida|pickup)\D{0,12}(\d+(?:[.,]\d+)?\s*km)`},
			{Field: "distance", Pattern: `(?i)(\d+(?:[.,]\d+)?\s*(?:km|mi|m)\b)`},
			{Field: "pickup_address", Pattern: `(?i)\b(?:desde|from)\b[:\s]+([^·|]+)`},
			{Field: "dropoff_address", Pattern: `(?i)\b(?:destino|hacia|to)\b[:\s]+([^·|]+)`},
			{Field: "expiry_seconds", Pattern: `(?i)(\d{1,3})\s*s(?:eg)?\b`},
		},
	}
}
