package preset

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		want   Preset
		hasErr bool
	}{
		{"", Preset{Name: "standard", CPU: 4, Memory: "16Gi"}, false},
		{"small", Preset{Name: "small", CPU: 2, Memory: "8Gi"}, false},
		{"standard", Preset{Name: "standard", CPU: 4, Memory: "16Gi"}, false},
		{"large", Preset{Name: "large", CPU: 8, Memory: "32Gi"}, false},
		{"huge", Preset{}, true},
		{"Large", Preset{}, true},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.name)
		if tt.hasErr {
			if !errors.Is(err, ErrUnknownPreset) {
				t.Errorf("Resolve(%q): expected ErrUnknownPreset, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q): unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q): expected %+v, got %+v", tt.name, tt.want, got)
		}
	}
}

func TestNames(t *testing.T) {
	want := []string{"small", "standard", "large"}
	if got := Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// callers must not be able to mutate the table
	Names()[0] = "tiny"
	if !Valid("small") || Valid("tiny") {
		t.Errorf("table was mutated through Names()")
	}
}
