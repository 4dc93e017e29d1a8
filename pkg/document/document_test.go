package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldToJSONPath(t *testing.T) {
	cases := map[string]string{
		"a":       "$.a",
		"a.b":     "$.a.b",
		"a.b.0.c": "$.a.b[0].c",
		"a.0":     "$.a[0]",
	}
	for in, want := range cases {
		assert.Equal(t, want, FieldToJSONPath(in), "input %q", in)
	}
}

func TestJSONPathRoundTrip(t *testing.T) {
	paths := []string{"a", "a.b", "a.b.0.c", "a.0"}
	for _, p := range paths {
		jp := FieldToJSONPath(p)
		got := JSONPathToField(jp)
		assert.Equal(t, p, got, "round trip of %q via %q", p, jp)
	}
}

func TestGetSet(t *testing.T) {
	m := M{"a": M{"b": A{1, 2, M{"c": 3}}}}
	v, ok := Get(m, "a.b.2.c")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	Set(m, "a.b.2.d", "new")
	v, ok = Get(m, "a.b.2.d")
	require.True(t, ok)
	assert.Equal(t, "new", v)

	Set(m, "x.y.z", 1)
	v, ok = Get(m, "x.y.z")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestUnset(t *testing.T) {
	m := M{"a": M{"b": 1, "c": 2}}
	Unset(m, "a.b")
	_, ok := Get(m, "a.b")
	assert.False(t, ok)
	v, ok := Get(m, "a.c")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	// Missing intermediate segment is a no-op.
	Unset(m, "missing.path")
}

func TestIsOperatorDocument(t *testing.T) {
	assert.True(t, IsOperatorDocument(M{"$gt": 1, "$lt": 2}))
	assert.False(t, IsOperatorDocument(M{"$gt": 1, "field": 2}))
	assert.False(t, IsOperatorDocument(M{}))
}

func TestPairsPreservesDocumentOrder(t *testing.T) {
	d := Document{{Key: "z", Value: 1}, {Key: "a", Value: 2}, {Key: "m", Value: 3}}
	pairs, ok := Pairs(d)
	require.True(t, ok)
	require.Len(t, pairs, 3)
	assert.Equal(t, []string{"z", "a", "m"}, []string{pairs[0].Key, pairs[1].Key, pairs[2].Key})
}

func TestPairsFromMap(t *testing.T) {
	pairs, ok := Pairs(M{"a": 1})
	require.True(t, ok)
	require.Len(t, pairs, 1)
	assert.Equal(t, "a", pairs[0].Key)
}

func TestDeepCopyMap(t *testing.T) {
	orig := M{"a": A{1, 2, M{"b": 3}}}
	cp := DeepCopyMap(orig)
	inner := cp["a"].(A)[2].(M)
	inner["b"] = 99
	origInner := orig["a"].(A)[2].(M)
	assert.Equal(t, 3, origInner["b"])
}
