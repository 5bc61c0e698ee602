package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestChapter_UnknownFieldsSurviveRoundTrip(t *testing.T) {
	in := []byte(`{"id":"c1","projectId":"p1","title":"One","content":"text","order":2,
		"wordCount":1,"createdAt":"2025-03-01T12:00:00Z","updatedAt":"2025-03-01T12:00:00Z",
		"mood":"grim","layout":{"columns":2}}`)

	var c Chapter
	require.NoError(t, json.Unmarshal(in, &c))
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, 2, c.Order)
	require.Len(t, c.Extra, 2)
	assert.JSONEq(t, `"grim"`, string(c.Extra["mood"]))

	out, err := json.Marshal(c)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "grim", back["mood"])
	assert.Equal(t, map[string]any{"columns": float64(2)}, back["layout"])
	assert.Equal(t, "One", back["title"])
}

func TestEncodeWithExtras_DeclaredFieldWins(t *testing.T) {
	m := Memo{ID: "m1", ProjectID: "p1", Title: "real", UpdatedAt: t0,
		Extra: Extras{"title": json.RawMessage(`"stale"`)}}

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var back Memo
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "real", back.Title)
	assert.Empty(t, back.Extra)
}

func TestWorldDocument_DefaultsID(t *testing.T) {
	var w WorldDocument
	require.NoError(t, json.Unmarshal([]byte(`{"projectId":"p1","docType":"plot","payload":{"a":1}}`), &w))
	assert.Equal(t, "p1:plot", w.ID)
	assert.NoError(t, w.Validate())
}

func TestTombstone_DefaultsID(t *testing.T) {
	var ts Tombstone
	require.NoError(t, json.Unmarshal([]byte(`{"projectId":"p1","entityType":"chapter","entityId":"c1"}`), &ts))
	assert.Equal(t, TombstoneID(EntityChapter, "c1"), ts.ID)
}

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		e    interface{ Validate() error }
	}{
		{"project without id", Project{}},
		{"chapter without project", Chapter{ID: "c1"}},
		{"character without id", Character{ProjectID: "p1"}},
		{"term without project", Term{ID: "t1"}},
		{"world doc with bad type", WorldDocument{ID: "x", ProjectID: "p1", DocType: "poem"}},
		{"memo without id", Memo{ProjectID: "p1"}},
		{"snapshot without project", Snapshot{ID: "s1"}},
		{"tombstone without entity", Tombstone{ProjectID: "p1", EntityType: EntityChapter}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingField))
		})
	}
}

func TestBundle_ValidateNamesEntitySet(t *testing.T) {
	b := Bundle{
		Projects: []Project{{ID: "p1"}},
		Terms:    []Term{{ID: "t1", ProjectID: "p1"}, {ID: "t2"}},
	}
	err := b.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terms[1]")
}

func TestBundle_ForProjectAndIDs(t *testing.T) {
	b := Bundle{
		Projects:   []Project{{ID: "p2"}, {ID: "p1"}},
		Chapters:   []Chapter{{ID: "c1", ProjectID: "p1"}, {ID: "c2", ProjectID: "p2"}},
		Snapshots:  []Snapshot{{ID: "s1", ProjectID: "p2"}},
		Tombstones: []Tombstone{NewTombstone("p3", EntityMemo, "m1", t0)},
	}

	assert.Equal(t, []string{"p1", "p2", "p3"}, b.ProjectIDs())

	p2 := b.ForProject("p2")
	assert.Len(t, p2.Projects, 1)
	assert.Equal(t, "c2", p2.Chapters[0].ID)
	assert.Len(t, p2.Snapshots, 1)
	assert.Empty(t, p2.Tombstones)

	p, ok := b.Project("p1")
	assert.True(t, ok)
	assert.Equal(t, "p1", p.ID)
	_, ok = b.Project("nope")
	assert.False(t, ok)
}

func TestBundle_SortIsOrderIndependent(t *testing.T) {
	a := Bundle{Chapters: []Chapter{{ID: "b", ProjectID: "p1"}, {ID: "a", ProjectID: "p1"}, {ID: "a", ProjectID: "p0"}}}
	b := Bundle{Chapters: []Chapter{{ID: "a", ProjectID: "p0"}, {ID: "a", ProjectID: "p1"}, {ID: "b", ProjectID: "p1"}}}
	a.Sort()
	b.Sort()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("sorted bundles differ (-a +b):\n%s", diff)
	}
}

func TestParseHelpers(t *testing.T) {
	et, err := ParseEntityType("worldDocument")
	require.NoError(t, err)
	assert.Equal(t, EntityWorldDocument, et)
	_, err = ParseEntityType("file")
	assert.Error(t, err)

	r, err := ParseResolution("remote")
	require.NoError(t, err)
	assert.Equal(t, ResolveRemote, r)
	_, err = ParseResolution("both")
	assert.Error(t, err)
}

func TestCanonicalJSON_NormalizesOnlyTimeFields(t *testing.T) {
	zone := time.FixedZone("KST", 9*3600)
	deleted := t0.In(zone)
	a := Chapter{ID: "c1", ProjectID: "p1", Content: "2024-01-01T09:00:00+09:00", UpdatedAt: t0, DeletedAt: &deleted}
	b := Chapter{ID: "c1", ProjectID: "p1", Content: "2024-01-01T00:00:00Z", UpdatedAt: t0.In(zone), DeletedAt: &t0}

	ea, err := CanonicalJSON(a)
	require.NoError(t, err)
	eb, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.NotEqual(t, string(ea), string(eb), "content strings must not be rewritten")

	b.Content = a.Content
	eb, err = CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, string(ea), string(eb))

	assert.Equal(t, zone, a.DeletedAt.Location(), "input left untouched")
}

func TestCanonicalJSON_BundleSlicesAreCopied(t *testing.T) {
	zone := time.FixedZone("X", 3600)
	b := Bundle{Chapters: []Chapter{{ID: "c1", ProjectID: "p1", UpdatedAt: t0.In(zone)}}}

	out, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"updatedAt":"2025-03-01T12:00:00Z"`)
	assert.Equal(t, zone, b.Chapters[0].UpdatedAt.Location())
}
