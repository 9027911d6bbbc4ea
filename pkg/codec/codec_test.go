package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := Document{"name": "John", "age": 30.0}
	b, err := Encode(doc)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "John", decoded["name"])
	assert.Equal(t, 30.0, decoded["age"])
}

func TestEncodeTooLarge(t *testing.T) {
	doc := Document{"blob": strings.Repeat("x", MaxDocumentSize+1)}
	_, err := Encode(doc)
	assert.ErrorIs(t, err, mtdberrors.ErrTooLarge)
}

func TestDecodeCorrupt(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, mtdberrors.ErrCorrupt)
}

func TestWithTags(t *testing.T) {
	doc := Document{"name": "John"}
	tagged := WithTags(doc, []string{"user", "active"})

	tags, ok := tagged[TagsField].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"user", "active"}, tags)

	// original untouched
	_, present := doc[TagsField]
	assert.False(t, present)
}

func TestWithTagsDeduplicatesExisting(t *testing.T) {
	doc := Document{TagsField: []any{"user"}}
	tagged := WithTags(doc, []string{"user", "active"})

	tags := tagged[TagsField].([]any)
	assert.ElementsMatch(t, []any{"user", "active"}, tags)
}

func TestFieldAtDottedPath(t *testing.T) {
	doc := Document{"address": map[string]any{"city": "Berlin"}}

	v, ok := FieldAt(doc, "address.city")
	require.True(t, ok)
	assert.Equal(t, "Berlin", v)

	_, ok = FieldAt(doc, "address.zip")
	assert.False(t, ok)

	_, ok = FieldAt(doc, "missing.path")
	assert.False(t, ok)
}

func TestAsFloat64(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{42.0, 42.0, true},
		{42, 42.0, true},
		{int64(42), 42.0, true},
		{"42.5", 42.5, true},
		{"not a number", 0, false},
		{true, 0, false},
	}
	for _, c := range cases {
		got, ok := AsFloat64(c.in)
		assert.Equal(t, c.ok, ok)
		if c.ok {
			assert.Equal(t, c.want, got)
		}
	}
}
