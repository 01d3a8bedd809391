// Package style loads the map style used by the rasterizer. A loaded Style is
// never mutated, so concurrent renders may share it.
package style

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"vtileraster/internal/tileerr"
)

// Rule draws the features of one vector layer.
type Rule struct {
	SourceLayer         string  `json:"source_layer"`
	Fill                string  `json:"fill,omitempty"`
	Stroke              string  `json:"stroke,omitempty"`
	StrokeWidth         float64 `json:"stroke_width,omitempty"`
	PointRadius         float64 `json:"point_radius,omitempty"`
	MinScaleDenominator float64 `json:"min_scale_denominator,omitempty"`
	MaxScaleDenominator float64 `json:"max_scale_denominator,omitempty"`

	fill   color.Color
	stroke color.Color
}

// Parameters carries style-level settings, interactivity among them.
type Parameters struct {
	InteractivityLayer  string `json:"interactivity_layer,omitempty"`
	InteractivityFields string `json:"interactivity_fields,omitempty"`
}

type Style struct {
	Name       string     `json:"name"`
	Background string     `json:"background,omitempty"`
	Parameters Parameters `json:"parameters"`
	Rules      []Rule     `json:"rules"`

	// Base is the directory the style was loaded from.
	Base string `json:"-"`

	background color.Color
}

// Load reads and validates a JSON style document.
func Load(path string) (*Style, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tileerr.New(tileerr.KindConfiguration, "style.Load", fmt.Errorf("failed to read style: %w", err))
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s.Base = filepath.Dir(path) + string(filepath.Separator)
	return s, nil
}

func Parse(data []byte) (*Style, error) {
	var s Style
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, tileerr.New(tileerr.KindConfiguration, "style.Parse", fmt.Errorf("invalid style document: %w", err))
	}

	var err error
	if s.background, err = parseColor(s.Background); err != nil {
		return nil, tileerr.New(tileerr.KindConfiguration, "style.Parse", fmt.Errorf("background: %w", err))
	}
	for i := range s.Rules {
		r := &s.Rules[i]
		if r.SourceLayer == "" {
			return nil, tileerr.Errorf(tileerr.KindConfiguration, "style.Parse", "rule %d has no source_layer", i)
		}
		if r.fill, err = parseColor(r.Fill); err != nil {
			return nil, tileerr.New(tileerr.KindConfiguration, "style.Parse", fmt.Errorf("rule %d fill: %w", i, err))
		}
		if r.stroke, err = parseColor(r.Stroke); err != nil {
			return nil, tileerr.New(tileerr.KindConfiguration, "style.Parse", fmt.Errorf("rule %d stroke: %w", i, err))
		}
		if r.StrokeWidth == 0 && r.stroke != nil {
			r.StrokeWidth = 1
		}
		if r.PointRadius == 0 {
			r.PointRadius = 2
		}
	}
	return &s, nil
}

// BackgroundColor is nil when the style leaves the canvas transparent.
func (s *Style) BackgroundColor() color.Color {
	return s.background
}

// RulesAt returns the rules visible at scaleDenominator, in draw order.
func (s *Style) RulesAt(scaleDenominator float64) []Rule {
	out := make([]Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.Visible(scaleDenominator) {
			out = append(out, r)
		}
	}
	return out
}

// InteractivityFields splits the comma separated field list.
func (s *Style) InteractivityFields() []string {
	if s.Parameters.InteractivityFields == "" {
		return nil
	}
	parts := strings.Split(s.Parameters.InteractivityFields, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}

// Visible reports whether the rule applies at scaleDenominator.
// Min is inclusive, max exclusive, zero means unbounded.
func (r Rule) Visible(scaleDenominator float64) bool {
	if r.MinScaleDenominator > 0 && scaleDenominator < r.MinScaleDenominator {
		return false
	}
	if r.MaxScaleDenominator > 0 && scaleDenominator >= r.MaxScaleDenominator {
		return false
	}
	return true
}

func (r Rule) FillColor() color.Color   { return r.fill }
func (r Rule) StrokeColor() color.Color { return r.stroke }

// parseColor accepts #rgb, #rrggbb and #rrggbbaa. Empty means no color.
func parseColor(s string) (color.Color, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "#") {
		return nil, fmt.Errorf("color %q must start with #", s)
	}
	hex := s[1:]
	var r, g, b, a uint8 = 0, 0, 0, 0xff
	var err error
	switch len(hex) {
	case 3:
		_, err = fmt.Sscanf(hex, "%1x%1x%1x", &r, &g, &b)
		r, g, b = r*17, g*17, b*17
	case 6:
		_, err = fmt.Sscanf(hex, "%2x%2x%2x", &r, &g, &b)
	case 8:
		_, err = fmt.Sscanf(hex, "%2x%2x%2x%2x", &r, &g, &b, &a)
	default:
		return nil, fmt.Errorf("color %q has invalid length", s)
	}
	if err != nil {
		return nil, fmt.Errorf("color %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: a}, nil
}
