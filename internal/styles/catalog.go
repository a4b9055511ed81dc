// Package styles loads bullet style definitions from a YAML catalog.
//
// A catalog names each style's collider, motion and render hint. Motion is
// either one of the built-in kinds (static, linear, accelerating, sine) or a
// tengo script that returns a velocity per bullet. A built-in catalog is
// embedded; a file on disk replaces it and can be watched for changes.
package styles

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"danmaku/internal/game/bullets"
	"danmaku/internal/game/vmath"
)

// ErrInvalidStyle reports a catalog entry that cannot become a style.
var ErrInvalidStyle = errors.New("invalid style definition")

//go:embed catalog.yaml scripts/*.tengo
var builtinFS embed.FS

// Catalog is the on-disk format.
type Catalog struct {
	Styles []StyleSpec `yaml:"styles"`
}

// StyleSpec is one catalog entry.
type StyleSpec struct {
	Name         string       `yaml:"name"`
	Collider     ColliderSpec `yaml:"collider"`
	Motion       MotionSpec   `yaml:"motion"`
	Lifetime     float32      `yaml:"lifetime"`
	Destructible bool         `yaml:"destructible"`
	PlayerOwned  bool         `yaml:"player_owned"`
	Cosmetic     bool         `yaml:"cosmetic"`
	Damage       float32      `yaml:"damage"`
	Color        string       `yaml:"color"`
	Sprite       string       `yaml:"sprite"`
}

// ColliderSpec describes the shape at scale 1. Width and Height are full
// extents for rect colliders.
type ColliderSpec struct {
	Kind   string  `yaml:"kind"`
	Radius float32 `yaml:"radius"`
	Width  float32 `yaml:"width"`
	Height float32 `yaml:"height"`
	Length float32 `yaml:"length"`
}

// MotionSpec selects a motion function.
type MotionSpec struct {
	Kind      string  `yaml:"kind"`
	Speed     float32 `yaml:"speed"`
	Accel     float32 `yaml:"accel"`
	MaxSpeed  float32 `yaml:"max_speed"`
	Amplitude float32 `yaml:"amplitude"`
	Frequency float32 `yaml:"frequency"`
	Script    string  `yaml:"script"` // inline tengo source
	File      string  `yaml:"file"`   // tengo file, relative to the catalog
}

// Parse decodes a catalog. Script files are read through readFile.
func Parse(data []byte, readFile func(name string) ([]byte, error)) ([]bullets.Style, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("styles: unmarshal: %w", err)
	}
	if len(cat.Styles) == 0 {
		return nil, fmt.Errorf("%w: catalog has no styles", ErrInvalidStyle)
	}

	seen := make(map[string]bool, len(cat.Styles))
	out := make([]bullets.Style, 0, len(cat.Styles))
	for _, spec := range cat.Styles {
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidStyle, spec.Name)
		}
		seen[spec.Name] = true

		s, err := spec.build(readFile)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadFile reads a catalog from disk. Script paths resolve against the
// catalog's directory.
func LoadFile(path string) ([]bullets.Style, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("styles: load %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	return Parse(data, func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	})
}

// Inline returns the catalog at path with every script file folded into
// its entry as inline source, so the result parses on its own.
func Inline(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("styles: load %s: %w", path, err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("styles: unmarshal: %w", err)
	}
	dir := filepath.Dir(path)
	for i := range cat.Styles {
		m := &cat.Styles[i].Motion
		if m.File == "" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(m.File)))
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", m.File, err)
		}
		m.Script, m.File = string(src), ""
	}
	return yaml.Marshal(&cat)
}

// Builtin returns the embedded catalog.
func Builtin() ([]bullets.Style, error) {
	data, err := builtinFS.ReadFile("catalog.yaml")
	if err != nil {
		return nil, err
	}
	return Parse(data, func(name string) ([]byte, error) {
		return builtinFS.ReadFile(filepath.ToSlash(name))
	})
}

// Load reads path when it exists and falls back to the built-in catalog
// otherwise. The second result reports whether the file was used.
func Load(path string) ([]bullets.Style, bool, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			styles, err := LoadFile(path)
			return styles, true, err
		}
	}
	styles, err := Builtin()
	return styles, false, err
}

func (spec StyleSpec) build(readFile func(string) ([]byte, error)) (bullets.Style, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return bullets.Style{}, fmt.Errorf("%w: empty name", ErrInvalidStyle)
	}
	if bullets.IsCullStyle(name) {
		return bullets.Style{}, fmt.Errorf("%w: %q uses the reserved suffix %s", ErrInvalidStyle, name, bullets.CullSuffix)
	}

	collider, err := spec.Collider.build()
	if err != nil {
		return bullets.Style{}, fmt.Errorf("style %s: %w", name, err)
	}
	src, err := spec.Motion.source(readFile)
	if err != nil {
		return bullets.Style{}, fmt.Errorf("style %s: %w", name, err)
	}
	motion, err := spec.Motion.build(name, src)
	if err != nil {
		return bullets.Style{}, fmt.Errorf("style %s: %w", name, err)
	}

	s := bullets.Style{
		Name:         name,
		Collider:     collider,
		Motion:       motion,
		Lifetime:     spec.Lifetime,
		Destructible: spec.Destructible,
		PlayerOwned:  spec.PlayerOwned,
		NonColliding: spec.Cosmetic,
		Damage:       spec.Damage,
		Render:       bullets.RenderHint{Color: spec.Color, Sprite: spec.Sprite},
		Fingerprint:  spec.fingerprint(src),
	}
	if err := s.Validate(); err != nil {
		return bullets.Style{}, err
	}
	return s, nil
}

func (c ColliderSpec) build() (bullets.Collider, error) {
	kind, err := bullets.ParseColliderKind(c.Kind)
	if err != nil {
		return bullets.Collider{}, err
	}
	col := bullets.Collider{Kind: kind, Radius: c.Radius}
	switch kind {
	case bullets.ColliderRect:
		col.HalfExtents = vmath.V(c.Width/2, c.Height/2)
	case bullets.ColliderSegment:
		col.Length = c.Length
	}
	return col, col.Validate()
}

// fingerprint hashes the entry together with its resolved script, so a
// change to a script file changes the style.
func (spec StyleSpec) fingerprint(script string) uint64 {
	enc, err := yaml.Marshal(spec)
	if err != nil {
		return 0
	}
	h := xxhash.New()
	h.Write(enc)
	h.WriteString(script)
	return h.Sum64()
}

// source returns the tengo source of a script motion, reading File when set.
func (m MotionSpec) source(readFile func(string) ([]byte, error)) (string, error) {
	if !strings.EqualFold(strings.TrimSpace(m.Kind), "script") {
		return "", nil
	}
	if m.File == "" {
		return m.Script, nil
	}
	data, err := readFile(m.File)
	if err != nil {
		return "", fmt.Errorf("script %s: %w", m.File, err)
	}
	return string(data), nil
}

func (m MotionSpec) build(style, src string) (bullets.MotionFunc, error) {
	switch strings.ToLower(strings.TrimSpace(m.Kind)) {
	case "", "static", "none":
		return nil, nil
	case "linear":
		return bullets.Linear(m.Speed), nil
	case "accelerating", "accel":
		return bullets.Accelerating(m.Speed, m.Accel, m.MaxSpeed), nil
	case "sine", "wave":
		if m.Frequency < 0 {
			return nil, fmt.Errorf("%w: negative frequency", ErrInvalidStyle)
		}
		return bullets.Sine(m.Speed, m.Amplitude, m.Frequency), nil
	case "script":
		if strings.TrimSpace(src) == "" {
			return nil, fmt.Errorf("%w: script motion without source", ErrInvalidStyle)
		}
		sm, err := CompileMotion(style, src, m.Speed)
		if err != nil {
			return nil, err
		}
		return sm.Func(), nil
	}
	return nil, fmt.Errorf("%w: unknown motion kind %q", ErrInvalidStyle, m.Kind)
}
