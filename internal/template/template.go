// Package template implements the startup-command and config-file
// substitution engine: named variable interpolation with
// per-variable validation rules, plus cargo-path references.
package template

import (
	"strconv"
	"strings"

	"github.com/argon-hosting/daemon/internal/argonerr"
)

// Variable is one templated value: its panel-issued default, an optional
// operator override, and a pipe-separated rule string.
type Variable struct {
	Name         string  `json:"name"`
	DefaultValue string  `json:"defaultValue"`
	CurrentValue *string `json:"currentValue,omitempty"`
	Rules        string  `json:"rules"`
}

// Value resolves currentValue ?? defaultValue.
func (v Variable) Value() string {
	if v.CurrentValue != nil {
		return *v.CurrentValue
	}
	return v.DefaultValue
}

// NormalizedName is lowercase(replace(name, ' ', '_')), the token that
// appears between percent signs in templated strings.
func NormalizedName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// Render substitutes every %normalized_name% occurrence in s with its
// resolved, rule-validated value, and every %cargo:['path']% occurrence
// with the matching cargoTargets entry. Placeholders with no matching
// variable or cargo entry are left intact, except that a cargo reference
// with no entry in cargoTargets fails with UnknownCargo.
func Render(s string, variables []Variable, cargoTargets map[string]string) (string, error) {
	byName := make(map[string]Variable, len(variables))
	for _, v := range variables {
		byName[NormalizedName(v.Name)] = v
	}

	var out strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '%' {
			out.WriteByte(s[i])
			i++
			continue
		}

		if rest := s[i:]; strings.HasPrefix(rest, "%cargo:[") {
			if end := strings.Index(rest, "]%"); end != -1 {
				token := rest[len("%cargo:["): end]
				path := strings.Trim(strings.TrimSpace(token), "'\"")
				target, ok := cargoTargets[path]
				if !ok {
					return "", argonerr.UnknownCargo(path)
				}
				out.WriteString(target)
				i += end + len("]%")
				continue
			}
		}

		if end := strings.IndexByte(s[i+1:], '%'); end != -1 {
			name := s[i+1: i+1+end]
			if v, ok := byName[name]; ok {
				value := v.Value()
				if err := Validate(value, v.Rules); err != nil {
					return "", argonerr.VariableRuleViolation(v.Name, v.Rules)
				}
				out.WriteString(value)
				i += 1 + end + 1
				continue
			}
		}

		out.WriteByte(s[i])
		i++
	}
	return out.String(), nil
}

// Validate applies a pipe-separated rule string to a value. Unknown
// tokens are ignored (forward-compatible); known tokens are rejection
// conditions, not requirements — validation is the conjunction of known
// rejections. An empty string short-circuits to valid when "nullable" is
// present; without it, an empty string is not rejected for that reason
// alone.
func Validate(value, rules string) error {
	if value == "" {
		for _, tok := range strings.Split(rules, "|") {
			if strings.TrimSpace(tok) == "nullable" {
				return nil
			}
		}
	}

	for _, tok := range strings.Split(rules, "|") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "" || tok == "nullable" || tok == "string":
			continue
		case strings.HasPrefix(tok, "max:"):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "max:"))
			if err != nil {
				continue // unknown/malformed token, ignored
			}
			if len(value) > n {
				return errRuleViolation
			}
		default:
			// unknown token, forward-compatible: ignored
		}
	}
	return nil
}

var errRuleViolation = ruleError("value violates rule")

type ruleError string

func (e ruleError) Error() string { return string(e) }
