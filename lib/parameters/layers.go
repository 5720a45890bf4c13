package parameters

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/dCycle/lib/path"
)

// --------------------------------------------------------------------------
// Scopes and Identity
// --------------------------------------------------------------------------

// Scope names one parameter layer. Scopes are listed in ascending precedence.
type Scope string

const (
	ScopeDefault         Scope = "default"
	ScopeBody            Scope = "body"
	ScopeHead            Scope = "head"
	ScopeLocationDefault Scope = "location/default"
	ScopeLocationBody    Scope = "location/body"
	ScopeLocationHead    Scope = "location/head"
)

// Scopes lists all scopes from lowest to highest precedence.
var Scopes = []Scope{
	ScopeDefault,
	ScopeBody,
	ScopeHead,
	ScopeLocationDefault,
	ScopeLocationBody,
	ScopeLocationHead,
}

// ParseScope validates a scope string.
func ParseScope(s string) (Scope, error) {
	for _, scope := range Scopes {
		if string(scope) == s {
			return scope, nil
		}
	}
	return "", NewError(RetCMissing, fmt.Sprintf("unknown scope %q", s))
}

// Identity selects the robot specific layers.
type Identity struct {
	BodyID   string
	HeadID   string
	Location string
}

// File returns the layer file of a scope below dir. It fails if the scope needs an id that is not set.
func (id Identity) File(dir string, scope Scope) (string, error) {
	need := func(value, what string) error {
		if value == "" {
			return NewError(RetCMissing, fmt.Sprintf("scope %s requires a %s", scope, what))
		}
		return nil
	}

	switch scope {
	case ScopeDefault:
		return filepath.Join(dir, "default.json"), nil
	case ScopeBody:
		if err := need(id.BodyID, "body id"); err != nil {
			return "", err
		}
		return filepath.Join(dir, fmt.Sprintf("body.%s.json", id.BodyID)), nil
	case ScopeHead:
		if err := need(id.HeadID, "head id"); err != nil {
			return "", err
		}
		return filepath.Join(dir, fmt.Sprintf("head.%s.json", id.HeadID)), nil
	}

	if err := need(id.Location, "location"); err != nil {
		return "", err
	}
	locationDir := filepath.Join(dir, "location", id.Location)
	switch scope {
	case ScopeLocationDefault:
		return filepath.Join(locationDir, "default.json"), nil
	case ScopeLocationBody:
		if err := need(id.BodyID, "body id"); err != nil {
			return "", err
		}
		return filepath.Join(locationDir, fmt.Sprintf("body.%s.json", id.BodyID)), nil
	case ScopeLocationHead:
		if err := need(id.HeadID, "head id"); err != nil {
			return "", err
		}
		return filepath.Join(locationDir, fmt.Sprintf("head.%s.json", id.HeadID)), nil
	default:
		return "", NewError(RetCMissing, fmt.Sprintf("unknown scope %q", scope))
	}
}

// Layer is one file of the layered configuration.
type Layer struct {
	Scope Scope
	File  string
}

// Layers returns the layer files applicable to the identity from lowest to highest precedence.
// Scopes whose id is not set are skipped.
func (id Identity) Layers(dir string) []Layer {
	layers := make([]Layer, 0, len(Scopes))
	for _, scope := range Scopes {
		file, err := id.File(dir, scope)
		if err != nil {
			continue
		}
		layers = append(layers, Layer{Scope: scope, File: file})
	}
	return layers
}

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

// ReadLayer reads a layer file. exists is false if the file does not exist.
// The root of a layer must be a JSON object.
func ReadLayer(file string) (tree any, exists bool, err error) {
	raw, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewError(RetCLayer, err.Error())
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	if err := decoder.Decode(&tree); err != nil {
		return nil, true, NewError(RetCLayer, fmt.Sprintf("%s: %v", file, err))
	}
	if _, ok := tree.(map[string]any); !ok {
		return nil, true, NewError(RetCLayer, fmt.Sprintf("%s: root must be an object", file))
	}
	return tree, true, nil
}

// Load reads and merges all layers of the identity. default.json is required.
func Load(dir string, id Identity) (any, error) {
	var merged any
	for _, layer := range id.Layers(dir) {
		tree, exists, err := ReadLayer(layer.File)
		if err != nil {
			return nil, err
		}
		if !exists {
			if layer.Scope == ScopeDefault {
				return nil, NewError(RetCMissing, fmt.Sprintf("required layer %s does not exist", layer.File))
			}
			continue
		}
		if merged == nil {
			merged = tree
			continue
		}
		merged = path.Merge(merged, tree)
	}
	return merged, nil
}

// writeLayer writes a layer atomically: the content goes to a temporary file in the same
// directory which is then renamed over the target.
func writeLayer(file string, tree any) error {
	raw, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return NewError(RetCLayer, err.Error())
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NewError(RetCLayer, err.Error())
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(file)+".*.tmp")
	if err != nil {
		return NewError(RetCLayer, err.Error())
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return NewError(RetCLayer, err.Error())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return NewError(RetCLayer, err.Error())
	}
	if err := tmp.Close(); err != nil {
		return NewError(RetCLayer, err.Error())
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return NewError(RetCLayer, err.Error())
	}
	return nil
}
