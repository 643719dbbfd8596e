package rules

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError is one structured problem found in a rule document.
type ValidationError struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid          bool              `json:"valid"`
	Errors         []ValidationError `json:"errors"`
	RuleCount      int               `json:"rule_count"`
	NormalizedYAML string            `json:"normalized_yaml,omitempty"`
}

// Parse strictly decodes a rule document. Unknown fields are rejected so
// typos in rule YAML surface instead of silently matching nothing. An empty
// document parses to zero rules.
func Parse(yamlText string) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(strings.NewReader(yamlText))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &Document{}, nil
		}
		return nil, err
	}
	return &doc, nil
}

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// Validate parses and schema-checks a rule document. On a YAML syntax error
// a single error with the offending line is returned; otherwise every schema
// violation is reported with its path. When valid, NormalizedYAML carries
// the canonical round-tripped form.
func Validate(yamlText string) ValidationResult {
	doc, err := Parse(yamlText)
	if err != nil {
		line := 0
		if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		return ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Path: "", Line: line, Message: err.Error()}},
		}
	}

	errs := validateDocument(doc)
	res := ValidationResult{
		Valid:     len(errs) == 0,
		Errors:    errs,
		RuleCount: len(doc.Rules),
	}
	if res.Valid {
		if canonical, err := yaml.Marshal(doc); err == nil {
			res.NormalizedYAML = string(canonical)
		}
	}
	return res
}

func validateDocument(doc *Document) []ValidationError {
	errs := []ValidationError{}
	seen := make(map[string]int, len(doc.Rules))

	for i, r := range doc.Rules {
		path := fmt.Sprintf("rules[%d]", i)

		if r.ID == "" {
			errs = append(errs, ValidationError{Path: path + ".id", Message: "rule id is required"})
		} else if prev, dup := seen[r.ID]; dup {
			errs = append(errs, ValidationError{
				Path:    path + ".id",
				Message: fmt.Sprintf("duplicate rule id %q (first used by rules[%d])", r.ID, prev),
			})
		} else {
			seen[r.ID] = i
		}
		if r.Name == "" {
			errs = append(errs, ValidationError{Path: path + ".name", Message: "rule name is required"})
		}
		if r.CooldownSeconds < 0 {
			errs = append(errs, ValidationError{Path: path + ".cooldown_seconds", Message: "cooldown_seconds must not be negative"})
		}

		errs = append(errs, validateMatch(path+".match", r.Match)...)

		if len(r.Actions) == 0 {
			errs = append(errs, ValidationError{Path: path + ".actions", Message: "at least one action is required"})
		}
		for j, a := range r.Actions {
			errs = append(errs, validateAction(fmt.Sprintf("%s.actions[%d]", path, j), a)...)
		}
	}
	return errs
}

func validateMatch(path string, m Match) []ValidationError {
	errs := []ValidationError{}

	if m.Chat != nil {
		switch m.Chat.Kind {
		case "", "any", "group", "direct":
		default:
			errs = append(errs, ValidationError{
				Path:    path + ".chat.type",
				Message: fmt.Sprintf("unknown chat type %q (want any, group or direct)", m.Chat.Kind),
			})
		}
	}

	if m.Text != nil {
		switch m.Text.Mode {
		case MatchContains, MatchStartsWith:
		case MatchRegex:
			for k, p := range m.Text.Patterns {
				if _, err := regexp.Compile("(?i)" + p); err != nil {
					errs = append(errs, ValidationError{
						Path:    fmt.Sprintf("%s.text.patterns[%d]", path, k),
						Message: fmt.Sprintf("invalid regex: %v", err),
					})
				}
			}
		default:
			errs = append(errs, ValidationError{
				Path:    path + ".text.mode",
				Message: fmt.Sprintf("unknown text match mode %q (want contains, starts_with or regex)", m.Text.Mode),
			})
		}
		if len(m.Text.Patterns) == 0 {
			errs = append(errs, ValidationError{Path: path + ".text.patterns", Message: "at least one pattern is required"})
		}
	}

	return errs
}

func validateAction(path string, a Action) []ValidationError {
	switch a.Type {
	case ActionHAService:
		if a.Service == "" {
			return []ValidationError{{Path: path + ".service", Message: "ha_service action requires a service"}}
		}
		if !strings.Contains(a.Service, ".") {
			return []ValidationError{{Path: path + ".service", Message: fmt.Sprintf("service %q must be of the form domain.name", a.Service)}}
		}
	case ActionReplyWhatsApp:
		if a.Text == "" {
			return []ValidationError{{Path: path + ".text", Message: "reply_whatsapp action requires text"}}
		}
	case "":
		return []ValidationError{{Path: path + ".type", Message: "action type is required"}}
	default:
		return []ValidationError{{Path: path + ".type", Message: fmt.Sprintf("unknown action type %q", a.Type)}}
	}
	return nil
}
