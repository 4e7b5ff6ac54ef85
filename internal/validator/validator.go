// Package validator checks user-submitted job descriptors. Validation runs
// as an ordered sequence of rules and stops at the first rule that fails, so
// a rejected descriptor always carries exactly one error.
package validator

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/angariumd/intake/internal/preset"
	"gopkg.in/yaml.v3"
)

// DataDirName is the subdirectory of a user directory that data entries are
// resolved against.
const DataDirName = "data"

var (
	validTypes = []string{"std", "grad", "prof", "cls"}
	idPattern  = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Descriptor is the typed view of a descriptor that passed every rule.
type Descriptor struct {
	Type   string
	ID     string
	Index  any // validated integer for cls, unchecked otherwise
	GPU    int
	Preset string // empty when the descriptor omits resource.preset
	Script string
	Data   []string
}

// Result is the outcome of validating one descriptor file. Data holds the
// parsed document, which is partial (or nil) when validation failed early.
type Result struct {
	Path       string
	Data       any
	Descriptor *Descriptor
	Err        *Error
}

func (r Result) Valid() bool {
	return r.Err == nil
}

// Errors returns the rejection reasons in stage order. It is empty for a
// valid result and holds a single message otherwise.
func (r Result) Errors() []string {
	if r.Err == nil {
		return []string{}
	}
	return []string{r.Err.Message}
}

// Validator is stateless and safe for concurrent use.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate runs all rule stages against the descriptor at path. The
// descriptor's directory is the user directory that script and data paths
// are resolved against.
func (v *Validator) Validate(path string) Result {
	res := Result{Path: path}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.Err = newError(KindDescriptorMissing, "", "job file does not exist: %s", path)
		} else {
			res.Err = newError(KindParse, "", "file read error: %v", err)
		}
		return res
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		res.Err = newError(KindParse, "", "file read error: %v", err)
		return res
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		res.Err = newError(KindParse, "", "YAML parse error: %v", err)
		return res
	}
	doc = normalize(doc)
	res.Data = doc

	m, ok := doc.(map[string]any)
	if !ok {
		res.Err = newError(KindParse, "", "job file must be a mapping")
		return res
	}

	if res.Err = checkRequired(m); res.Err != nil {
		return res
	}
	d, verr := checkValues(m)
	if verr != nil {
		res.Err = verr
		return res
	}
	if res.Err = checkFiles(m, d, filepath.Dir(path)); res.Err != nil {
		return res
	}

	res.Descriptor = d
	return res
}

func checkRequired(m map[string]any) *Error {
	for _, field := range []string{"type", "id", "resource"} {
		if _, ok := m[field]; !ok {
			return newError(KindSchema, field, "%s field is required", field)
		}
	}
	res, ok := m["resource"].(map[string]any)
	if !ok {
		return newError(KindSchema, "resource", "resource must be a mapping")
	}
	if _, ok := res["gpu"]; !ok {
		return newError(KindSchema, "resource.gpu", "resource.gpu field is required")
	}
	if _, ok := m["script"]; !ok {
		return newError(KindSchema, "script", "script field is required")
	}
	return nil
}

func checkValues(m map[string]any) (*Descriptor, *Error) {
	d := &Descriptor{}

	typ, _ := m["type"].(string)
	if !contains(validTypes, typ) {
		return nil, newError(KindSchema, "type", "type must be one of [%s]", strings.Join(validTypes, ", "))
	}
	d.Type = typ

	id, ok := m["id"].(string)
	if !ok || id == "" {
		return nil, newError(KindSchema, "id", "id must be a non-empty string")
	}
	if !idPattern.MatchString(id) {
		return nil, newError(KindSchema, "id", "id must contain only letters and digits")
	}
	d.ID = id

	d.Index = m["index"]
	if typ == "cls" {
		if d.Index == nil {
			return nil, newError(KindSchema, "index", "cls type requires the index field")
		}
		n, ok := asInt(d.Index)
		if !ok || n < 1 {
			return nil, newError(KindSchema, "index", "index must be an integer >= 1")
		}
		d.Index = n
	}

	res := m["resource"].(map[string]any)
	gpu, ok := asInt(res["gpu"])
	if !ok {
		return nil, newError(KindSchema, "resource.gpu", "resource.gpu must be an integer")
	}
	if gpu < 0 {
		return nil, newError(KindSchema, "resource.gpu", "resource.gpu must be >= 0")
	}
	d.GPU = gpu

	if p, present := res["preset"]; present {
		name, _ := p.(string)
		if !preset.Valid(name) {
			return nil, newError(KindSchema, "resource.preset", "resource.preset must be one of [%s]", strings.Join(preset.Names(), ", "))
		}
		d.Preset = name
	}

	script, ok := m["script"].(string)
	if !ok {
		return nil, newError(KindSchema, "script", "script must be a string")
	}
	if !strings.HasSuffix(script, ".sh") {
		return nil, newError(KindSchema, "script", "script must be a .sh file")
	}
	d.Script = script

	return d, nil
}

func checkFiles(m map[string]any, d *Descriptor, userDir string) *Error {
	scriptPath := filepath.Join(userDir, d.Script)
	if !exists(scriptPath) {
		return newError(KindReferencedFileMissing, "script", "script file not found: %s", scriptPath)
	}

	raw := m["data"]
	if !Truthy(raw) {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return newError(KindSchema, "data", "data must be a list")
	}

	dataDir := filepath.Join(userDir, DataDirName)
	if !exists(dataDir) {
		return newError(KindReferencedFileMissing, "data", "data directory not found: %s", dataDir)
	}

	d.Data = make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok {
			return newError(KindSchema, "data", "data entries must be strings")
		}
		p := filepath.Join(dataDir, name)
		if !exists(p) {
			return newError(KindReferencedFileMissing, "data", "data not found: %s", p)
		}
		d.Data = append(d.Data, name)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// asInt accepts YAML integers only. Booleans and floats are rejected even
// when they hold a whole number.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), n <= uint64(^uint(0)>>1)
	default:
		return 0, false
	}
}

// Truthy reports whether v would count as set in the descriptor: nil,
// false, zero numbers, empty strings and empty collections do not.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// normalize rewrites mappings with non-string keys so every mapping in the
// document is a map[string]any, and replaces non-finite floats with their
// YAML spelling, so the document can always be encoded as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case float64:
		switch {
		case math.IsNaN(t):
			return ".nan"
		case math.IsInf(t, 1):
			return ".inf"
		case math.IsInf(t, -1):
			return "-.inf"
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}
