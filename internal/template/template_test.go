package template

import (
	"testing"

	"github.com/argon-hosting/daemon/internal/argonerr"
)

func TestRenderSubstitutesVariables(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		variables []Variable
		want      string
	}{
		{
			name:      "default value used when no override",
			input:     "java -Xmx%memory%M -jar server.jar",
			variables: []Variable{{Name: "Memory", DefaultValue: "1024"}},
			want:      "java -Xmx1024M -jar server.jar",
		},
		{
			name:  "current value overrides default",
			input: "%port%",
			variables: []Variable{
				{Name: "PORT", DefaultValue: "25565", CurrentValue: strPtr("25566")},
			},
			want: "25566",
		},
		{
			name:      "unmatched placeholder left intact",
			input:     "%unknown_var%",
			variables: nil,
			want:      "%unknown_var%",
		},
		{
			name:      "name normalization replaces spaces and lowercases",
			input:     "%max_players%",
			variables: []Variable{{Name: "Max Players", DefaultValue: "20"}},
			want:      "20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.input, tt.variables, nil)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderCargoReference(t *testing.T) {
	got, err := Render("%cargo:['plugins/foo.jar']%", nil, map[string]string{
		"plugins/foo.jar": "/home/container/plugins/foo.jar",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got != "/home/container/plugins/foo.jar" {
		t.Errorf("Render() = %q", got)
	}
}

func TestRenderUnknownCargoFails(t *testing.T) {
	_, err := Render("%cargo:['missing.jar']%", nil, map[string]string{})
	if argonerr.KindOf(err) != argonerr.KindUnknownCargo {
		t.Fatalf("expected KindUnknownCargo, got %v", err)
	}
}

func TestRenderRuleViolation(t *testing.T) {
	variables := []Variable{{Name: "PORT", DefaultValue: "999999", Rules: "string|max:4"}}
	_, err := Render("%port%", variables, nil)
	if argonerr.KindOf(err) != argonerr.KindVariableRuleViolation {
		t.Fatalf("expected KindVariableRuleViolation, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		rules   string
		wantErr bool
	}{
		{"empty nullable ok", "", "nullable", false},
		{"empty without nullable not rejected", "", "string", false},
		{"within max", "abcd", "string|max:4", false},
		{"exceeds max", "abcde", "string|max:4", true},
		{"unknown token ignored", "abcde", "string|frobnicate", false},
		{"unknown token never flips true to false", "abcde", "max:100|unknown:xyz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.value, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q, %q) error = %v, wantErr %v", tt.value, tt.rules, err, tt.wantErr)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
