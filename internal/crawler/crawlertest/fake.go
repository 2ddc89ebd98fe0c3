// Package crawlertest provides an in-memory crawler.Surface for tests.
package crawlertest

import (
	"context"
	"errors"
	"sync"

	"github.com/v0xg/digitwin/internal/crawler"
)

// Node is one tagged element of a fake document
type Node struct {
	ID        string
	Role      string
	Text      string
	Value     string
	Width     float64
	Height    float64
	Disabled  bool
	TextInput bool
	// OnClick runs with the surface lock released
	OnClick func(s *Surface)
}

// Surface is a mutable fake document. The zero value is an empty page.
type Surface struct {
	mu      sync.Mutex
	screen  string
	nodes   []*Node
	clicks  []string
	events  []string
	failAll error
}

var _ crawler.Surface = (*Surface)(nil)

// New returns a surface showing screen with the given nodes
func New(screen string, nodes ...*Node) *Surface {
	return &Surface{screen: screen, nodes: nodes}
}

// SetScreen changes the screen marker
func (s *Surface) SetScreen(screen string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen = screen
}

// Add appends a node
func (s *Surface) Add(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, n)
}

// FailWith makes every surface read fail with err (nil restores)
func (s *Surface) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

// Clicks returns the ids clicked so far, in order
func (s *Surface) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// Events returns the DOM events dispatched by SetValue, as "id:type"
func (s *Surface) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// Value returns the current value of the first node tagged id
func (s *Surface) Value(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == id {
			return n.Value
		}
	}
	return ""
}

func (s *Surface) Screen(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return "", s.failAll
	}
	return s.screen, nil
}

func (s *Surface) Elements(ctx context.Context) ([]crawler.RawElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return nil, s.failAll
	}
	out := make([]crawler.RawElement, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, crawler.RawElement{
			ID: n.ID, Role: n.Role, Text: n.Text, Value: n.Value,
			Width: n.Width, Height: n.Height, Disabled: n.Disabled,
		})
	}
	return out, nil
}

func (s *Surface) Find(ctx context.Context, id string) (crawler.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return nil, false, s.failAll
	}
	for _, n := range s.nodes {
		if n.ID == id {
			return &handle{s: s, n: n}, true, nil
		}
	}
	return nil, false, nil
}

type handle struct {
	s *Surface
	n *Node
}

func (h *handle) Click(ctx context.Context) error {
	h.s.mu.Lock()
	h.s.clicks = append(h.s.clicks, h.n.ID)
	onClick := h.n.OnClick
	h.s.mu.Unlock()

	if onClick != nil {
		onClick(h.s)
	}
	return nil
}

func (h *handle) IsTextInput(ctx context.Context) (bool, error) {
	return h.n.TextInput, nil
}

func (h *handle) SetValue(ctx context.Context, value string) error {
	if !h.n.TextInput {
		return errors.New("not a text input")
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.n.Value = value
	h.s.events = append(h.s.events, h.n.ID+":input", h.n.ID+":change")
	return nil
}

// Button is a visible clickable node
func Button(id, text string) *Node {
	return &Node{ID: id, Role: "button", Text: text, Width: 80, Height: 24}
}

// Textbox is a visible text input node
func Textbox(id string) *Node {
	return &Node{ID: id, Role: "textbox", Width: 200, Height: 24, TextInput: true}
}
