package crawler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/digitwin/internal/crawler"
	"github.com/v0xg/digitwin/internal/crawler/crawlertest"
)

func TestExtract(t *testing.T) {
	hidden := &crawlertest.Node{ID: "menu", Role: "button", Text: "Menu", Width: 0, Height: 20}
	disabled := crawlertest.Button("save", "Save")
	disabled.Disabled = true
	name := crawlertest.Textbox("name")
	name.Value = "Ada"

	s := crawlertest.New("Dashboard", crawlertest.Button("new", "New"), hidden, disabled, name)

	snap := crawler.Extract(context.Background(), s)

	require.NotNil(t, snap.Screen)
	assert.Equal(t, "Dashboard", *snap.Screen)
	assert.Equal(t, "Dashboard", snap.ScreenName())
	require.Len(t, snap.Elements, 4)

	assert.Equal(t, crawler.Element{ID: "new", Role: "button", Text: "New", Visible: true}, snap.Elements[0])
	assert.False(t, snap.Elements[1].Visible, "zero width means not visible")
	assert.True(t, snap.Elements[2].Disabled)
	assert.Equal(t, "Ada", snap.Elements[3].Value)
}

func TestExtract_NoMarkers(t *testing.T) {
	snap := crawler.Extract(context.Background(), crawlertest.New(""))

	assert.Nil(t, snap.Screen)
	assert.Equal(t, "", snap.ScreenName())
	assert.NotNil(t, snap.Elements)
	assert.Empty(t, snap.Elements)
}

func TestExtract_SurfaceFailureNeverErrors(t *testing.T) {
	s := crawlertest.New("Home", crawlertest.Button("a", "A"))
	s.FailWith(errors.New("target closed"))

	snap := crawler.Extract(context.Background(), s)

	assert.Nil(t, snap.Screen)
	assert.Empty(t, snap.Elements)
}

func TestExtract_Idempotent(t *testing.T) {
	s := crawlertest.New("Home", crawlertest.Button("a", "A"), crawlertest.Textbox("b"))

	first := crawler.Extract(context.Background(), s)
	second := crawler.Extract(context.Background(), s)

	assert.True(t, first.Equal(second))
	assert.Equal(t, first, second)
}

func TestExtract_DuplicateIDsAreReported(t *testing.T) {
	s := crawlertest.New("Home", crawlertest.Button("dup", "First"), crawlertest.Button("dup", "Second"))

	snap := crawler.Extract(context.Background(), s)
	require.Len(t, snap.Elements, 2)

	h, ok, err := s.Find(context.Background(), "dup")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.Click(context.Background()))
	assert.Equal(t, []string{"dup"}, s.Clicks())
}

func TestSnapshotEqual(t *testing.T) {
	home, other := "Home", "Other"
	base := crawler.Snapshot{Screen: &home, Elements: []crawler.Element{{ID: "a"}}}

	tests := []struct {
		name  string
		other crawler.Snapshot
		want  bool
	}{
		{"identical", crawler.Snapshot{Screen: &home, Elements: []crawler.Element{{ID: "a"}}}, true},
		{"different screen", crawler.Snapshot{Screen: &other, Elements: []crawler.Element{{ID: "a"}}}, false},
		{"nil screen", crawler.Snapshot{Elements: []crawler.Element{{ID: "a"}}}, false},
		{"different value", crawler.Snapshot{Screen: &home, Elements: []crawler.Element{{ID: "a", Value: "x"}}}, false},
		{"extra element", crawler.Snapshot{Screen: &home, Elements: []crawler.Element{{ID: "a"}, {ID: "b"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Equal(tt.other))
		})
	}
}

func TestSnapshotClone(t *testing.T) {
	home := "Home"
	orig := crawler.Snapshot{Screen: &home, Elements: []crawler.Element{{ID: "a"}}}

	c := orig.Clone()
	*c.Screen = "Changed"
	c.Elements[0].ID = "z"

	assert.Equal(t, "Home", *orig.Screen)
	assert.Equal(t, "a", orig.Elements[0].ID)
	assert.NotNil(t, crawler.Snapshot{}.Clone().Elements)
}
