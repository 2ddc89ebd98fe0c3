package crawler

import "context"

// DOM marker attributes shared with the rendered UI
const (
	AttrID     = "data-agent-id"
	AttrRole   = "data-agent-role"
	AttrScreen = "data-agent-screen"
)

// Snapshot is a point-in-time description of the actionable UI
type Snapshot struct {
	Screen   *string   `json:"screen"`
	Elements []Element `json:"elements"`
}

// Element is one tagged interactive node
type Element struct {
	ID       string `json:"id"`
	Role     string `json:"role"` // free-form: button, textbox, link...
	Text     string `json:"text"`
	Value    string `json:"value"`
	Visible  bool   `json:"visible"`
	Disabled bool   `json:"disabled"`
}

// RawElement is what a Surface reports before visibility is derived
type RawElement struct {
	ID       string
	Role     string
	Text     string
	Value    string
	Width    float64
	Height   float64
	Disabled bool
}

// Surface is the capability set the agent needs from a rendered UI.
// Browser implements it over rod; tests use in-memory fakes.
type Surface interface {
	// Screen returns the current screen marker, or "" when none is rendered
	Screen(ctx context.Context) (string, error)
	// Elements lists tagged nodes in document order
	Elements(ctx context.Context) ([]RawElement, error)
	// Find returns the first tagged node with the given id in document order
	Find(ctx context.Context, id string) (Handle, bool, error)
}

// Handle is a live reference to one tagged node
type Handle interface {
	Click(ctx context.Context) error
	IsTextInput(ctx context.Context) (bool, error)
	// SetValue assigns the value and emits input and change events
	SetValue(ctx context.Context, value string) error
}

// Extract captures a Snapshot from s. It never fails: surface errors
// degrade to a nil screen and/or an empty element list.
func Extract(ctx context.Context, s Surface) Snapshot {
	snap := Snapshot{Elements: []Element{}}

	if screen, err := s.Screen(ctx); err == nil && screen != "" {
		snap.Screen = &screen
	}

	raw, err := s.Elements(ctx)
	if err != nil {
		return snap
	}
	for _, r := range raw {
		snap.Elements = append(snap.Elements, Element{
			ID:       r.ID,
			Role:     r.Role,
			Text:     r.Text,
			Value:    r.Value,
			Visible:  r.Width > 0 && r.Height > 0,
			Disabled: r.Disabled,
		})
	}
	return snap
}

// ScreenName returns the screen marker or "" when absent
func (s Snapshot) ScreenName() string {
	if s.Screen == nil {
		return ""
	}
	return *s.Screen
}

// Equal reports whether two snapshots describe the same screen and elements in the same order
func (s Snapshot) Equal(o Snapshot) bool {
	if (s.Screen == nil) != (o.Screen == nil) {
		return false
	}
	if s.Screen != nil && *s.Screen != *o.Screen {
		return false
	}
	if len(s.Elements) != len(o.Elements) {
		return false
	}
	for i := range s.Elements {
		if s.Elements[i] != o.Elements[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	c := Snapshot{Elements: append([]Element(nil), s.Elements...)}
	if c.Elements == nil {
		c.Elements = []Element{}
	}
	if s.Screen != nil {
		screen := *s.Screen
		c.Screen = &screen
	}
	return c
}
