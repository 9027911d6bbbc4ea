package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/codec"
)

func TestMatchImplicitEquals(t *testing.T) {
	doc := codec.Document{"name": "John", "age": 30.0}
	assert.True(t, Match(doc, Predicate{"name": "John"}))
	assert.False(t, Match(doc, Predicate{"name": "Jane"}))
}

func TestMatchComparisonOperators(t *testing.T) {
	doc := codec.Document{"age": 30.0}

	assert.True(t, Match(doc, Predicate{"age": map[string]any{"$gt": 25.0}}))
	assert.False(t, Match(doc, Predicate{"age": map[string]any{"$gt": 35.0}}))
	assert.True(t, Match(doc, Predicate{"age": map[string]any{"$gte": 30.0}}))
	assert.True(t, Match(doc, Predicate{"age": map[string]any{"$lte": 30.0}}))
	assert.True(t, Match(doc, Predicate{"age": map[string]any{"$lt": 35.0}}))
}

func TestMatchNonNumericFailsComparison(t *testing.T) {
	doc := codec.Document{"name": "John"}
	assert.False(t, Match(doc, Predicate{"name": map[string]any{"$gt": 5.0}}))
}

func TestMatchNumericStringFieldFailsComparison(t *testing.T) {
	doc := codec.Document{"age": "30"}
	assert.False(t, Match(doc, Predicate{"age": map[string]any{"$gt": 25.0}}))
	assert.False(t, Match(doc, Predicate{"age": map[string]any{"$gte": 30.0}}))
	assert.False(t, Match(doc, Predicate{"age": 30.0}))
}

func TestMatchNotEquals(t *testing.T) {
	doc := codec.Document{"status": "active"}
	assert.True(t, Match(doc, Predicate{"status": map[string]any{"$ne": "inactive"}}))
	assert.False(t, Match(doc, Predicate{"status": map[string]any{"$ne": "active"}}))

	// missing field matches $ne for a non-null operand
	assert.True(t, Match(doc, Predicate{"missing": map[string]any{"$ne": "x"}}))
}

func TestMatchIn(t *testing.T) {
	doc := codec.Document{"role": "admin"}
	assert.True(t, Match(doc, Predicate{"role": map[string]any{"$in": []any{"admin", "owner"}}}))
	assert.False(t, Match(doc, Predicate{"role": map[string]any{"$in": []any{"guest"}}}))
}

func TestMatchContainsArray(t *testing.T) {
	doc := codec.Document{"tags": []any{"a", "b", "c"}}
	assert.True(t, Match(doc, Predicate{"tags": map[string]any{"$contains": "b"}}))
	assert.False(t, Match(doc, Predicate{"tags": map[string]any{"$contains": "z"}}))
}

func TestMatchContainsSubstring(t *testing.T) {
	doc := codec.Document{"bio": "loves gophers"}
	assert.True(t, Match(doc, Predicate{"bio": map[string]any{"$contains": "gopher"}}))
	assert.False(t, Match(doc, Predicate{"bio": map[string]any{"$contains": "snake"}}))
}

func TestMatchAll(t *testing.T) {
	doc := codec.Document{"tags": []any{"a", "b", "c"}}
	assert.True(t, Match(doc, Predicate{"tags": map[string]any{"$all": []any{"a", "c"}}}))
	assert.False(t, Match(doc, Predicate{"tags": map[string]any{"$all": []any{"a", "z"}}}))
}

func TestMatchRegex(t *testing.T) {
	doc := codec.Document{"email": "a@example.com"}
	assert.True(t, Match(doc, Predicate{"email": map[string]any{"$regex": "^[a-z]+@example\\.com$"}}))
	assert.False(t, Match(doc, Predicate{"email": map[string]any{"$regex": "^[0-9]+$"}}))
}

func TestMatchExists(t *testing.T) {
	doc := codec.Document{"present": "x"}
	assert.True(t, Match(doc, Predicate{"present": map[string]any{"$exists": true}}))
	assert.True(t, Match(doc, Predicate{"missing": map[string]any{"$exists": false}}))
	assert.False(t, Match(doc, Predicate{"missing": map[string]any{"$exists": true}}))
}

func TestMatchConjunctive(t *testing.T) {
	doc := codec.Document{"age": 30.0, "name": "John"}
	assert.True(t, Match(doc, Predicate{"age": map[string]any{"$gt": 25.0}, "name": "John"}))
	assert.False(t, Match(doc, Predicate{"age": map[string]any{"$gt": 25.0}, "name": "Jane"}))
}

func TestMatchDottedPath(t *testing.T) {
	doc := codec.Document{"address": map[string]any{"city": "Berlin"}}
	assert.True(t, Match(doc, Predicate{"address.city": "Berlin"}))
	assert.False(t, Match(doc, Predicate{"address.city": "Paris"}))
}

func TestLimit(t *testing.T) {
	assert.Equal(t, 0, Limit(Predicate{}))
	assert.Equal(t, 5, Limit(Predicate{"$limit": 5.0}))
	assert.Equal(t, 0, Limit(Predicate{"$limit": -1.0}))
}

func TestLimitIgnoredByMatch(t *testing.T) {
	doc := codec.Document{"name": "John"}
	assert.True(t, Match(doc, Predicate{"name": "John", "$limit": 10.0}))
}
