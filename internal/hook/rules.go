package hook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/FalcoGer/pmp/internal/escape"
	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/relay"
	"gopkg.in/yaml.v3"
)

// Action is what a matching rule does with the chunk.
type Action string

const (
	ActionForward Action = "forward"
	ActionDrop    Action = "drop"
	ActionReplace Action = "replace"
)

// RuleFile is the YAML layout of a rule file.
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule as written by the operator. Text fields accept
// backslash escapes; the *_hex variants take hex with optional spaces.
type RuleSpec struct {
	Name       string          `yaml:"name"`
	Origin     string          `yaml:"origin"`
	Match      string          `yaml:"match"`
	MatchHex   string          `yaml:"match_hex"`
	Action     Action          `yaml:"action"`
	Replace    string          `yaml:"replace"`
	ReplaceHex string          `yaml:"replace_hex"`
	Inject     []InjectionSpec `yaml:"inject"`
}

// InjectionSpec queues extra bytes for one side when its rule matches.
type InjectionSpec struct {
	To   string `yaml:"to"`
	Data string `yaml:"data"`
	Hex  string `yaml:"hex"`
}

type rule struct {
	name    string
	anyRole bool
	origin  relay.Role
	match   []byte
	action  Action
	replace []byte
	inject  []injection
}

type injection struct {
	to   relay.Role
	data []byte
}

// Rules is a compiled rule set. The first rule that matches a chunk decides
// its fate; chunks no rule matches are forwarded unchanged. When the session
// setting "rules" is off every chunk is forwarded.
type Rules struct {
	rules []rule
}

var _ relay.Hook = (*Rules)(nil)

// LoadRules reads and compiles the rule file at path.
func LoadRules(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()
	r, err := ReadRules(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ReadRules compiles a rule file. Unknown keys are rejected.
func ReadRules(rd io.Reader) (*Rules, error) {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	var file RuleFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	out := &Rules{rules: make([]rule, 0, len(file.Rules))}
	for i, spec := range file.Rules {
		r, err := spec.compile()
		if err != nil {
			label := spec.Name
			if label == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("rule %s: %w", label, err)
		}
		out.rules = append(out.rules, r)
	}
	return out, nil
}

func parseRole(s string) (relay.Role, bool, error) {
	switch s {
	case "client":
		return relay.RoleClient, false, nil
	case "server":
		return relay.RoleServer, false, nil
	case "", "any":
		return 0, true, nil
	}
	return 0, false, fmt.Errorf("unknown side %q", s)
}

// bytesOf picks the text or hex form of a field; setting both is an error.
func bytesOf(field, text, hexText string) ([]byte, error) {
	switch {
	case text != "" && hexText != "":
		return nil, fmt.Errorf("%s and %s_hex are exclusive", field, field)
	case hexText != "":
		return escape.DecodeHex(hexText)
	case text != "":
		return escape.Expand(text)
	}
	return nil, nil
}

func (s RuleSpec) compile() (rule, error) {
	r := rule{name: s.Name, action: s.Action}
	var err error
	if r.origin, r.anyRole, err = parseRole(s.Origin); err != nil {
		return r, fmt.Errorf("origin: %w", err)
	}
	if r.match, err = bytesOf("match", s.Match, s.MatchHex); err != nil {
		return r, err
	}
	if r.action == "" {
		r.action = ActionForward
	}
	switch r.action {
	case ActionForward, ActionDrop:
		if s.Replace != "" || s.ReplaceHex != "" {
			return r, fmt.Errorf("replacement given for action %s", r.action)
		}
	case ActionReplace:
		if r.replace, err = bytesOf("replace", s.Replace, s.ReplaceHex); err != nil {
			return r, err
		}
	default:
		return r, fmt.Errorf("unknown action %q", s.Action)
	}
	for _, in := range s.Inject {
		to, anyRole, err := parseRole(in.To)
		if err != nil || anyRole {
			return r, fmt.Errorf("inject: side must be client or server, got %q", in.To)
		}
		data, err := bytesOf("data", in.Data, in.Hex)
		if err != nil {
			return r, fmt.Errorf("inject: %w", err)
		}
		r.inject = append(r.inject, injection{to: to, data: data})
	}
	return r, nil
}

func (r rule) matches(data []byte, origin relay.Role) bool {
	if !r.anyRole && r.origin != origin {
		return false
	}
	return len(r.match) == 0 || bytes.Contains(data, r.match)
}

// Len is the number of rules.
func (rs *Rules) Len() int { return len(rs.rules) }

func (rs *Rules) Handle(data []byte, h relay.Handle, origin relay.Role) error {
	if !h.Settings().Hook.Rules {
		return relay.PassThrough.Handle(data, h, origin)
	}
	for _, r := range rs.rules {
		if !r.matches(data, origin) {
			continue
		}
		obs.Debug("hook.rule", obs.Fields{"session": h.Name(), "rule": r.name, "origin": origin.String(), "action": string(r.action)})
		switch r.action {
		case ActionForward:
			h.SendData(origin.Opposite(), data)
		case ActionReplace:
			if len(r.match) == 0 {
				h.SendData(origin.Opposite(), r.replace)
			} else {
				h.SendData(origin.Opposite(), bytes.ReplaceAll(data, r.match, r.replace))
			}
		}
		for _, in := range r.inject {
			h.SendData(in.to, in.data)
		}
		return nil
	}
	h.SendData(origin.Opposite(), data)
	return nil
}
