package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PreservesOrder(t *testing.T) {
	doc := `{"zeta":"","alpha":{"mid":"x","early":""},"beta":""}`
	tree := mustParse(t, doc)

	assert.Equal(t, []string{"zeta", "alpha", "beta"}, tree.Keys())
	sub, ok := tree.Child("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"mid", "early"}, sub.Keys())
	assert.Equal(t, doc, jsonOf(t, tree))
}

func TestParse_RejectsNonStringLeaves(t *testing.T) {
	docs := map[string]string{
		"number":    `{"a":1}`,
		"bool":      `{"a":true}`,
		"null":      `{"a":null}`,
		"array":     `{"a":["x"]}`,
		"top array": `["x"]`,
		"trailing":  `{"a":""} {"b":""}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidShape), "got %v", err)
		})
	}

	_, err := Parse([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestParse_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	tree := mustParse(t, `{"a":"1","b":"2","a":"3"}`)
	assert.Equal(t, `{"a":"3","b":"2"}`, jsonOf(t, tree))
}

func TestTree_JSONRoundTripInsideStruct(t *testing.T) {
	type envelope struct {
		Schema *Tree `json:"schema"`
	}
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(`{"schema":{"b":"","a":{"c":"y"}}}`), &env))
	require.NotNil(t, env.Schema)

	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Equal(t, `{"schema":{"b":"","a":{"c":"y"}}}`, string(out))
}

func TestEqual(t *testing.T) {
	a := mustParse(t, `{"a":"1","b":{"c":""}}`)
	assert.True(t, Equal(a, mustParse(t, `{"b":{"c":""},"a":"1"}`)), "order is not significant")
	assert.False(t, Equal(a, mustParse(t, `{"a":"1","b":{"c":"x"}}`)))
	assert.False(t, Equal(a, mustParse(t, `{"a":"1"}`)))
	assert.False(t, Equal(a, mustParse(t, `{"a":"1","b":""}`)))
	assert.True(t, Equal(nil, New()))
}

func TestClone_IsDeep(t *testing.T) {
	orig := mustParse(t, `{"a":{"b":""}}`)
	cp := orig.Clone()
	sub, _ := cp.Child("a")
	sub.SetLeaf("b", "changed")
	sub.SetLeaf("new", "x")

	assert.Equal(t, `{"a":{"b":""}}`, jsonOf(t, orig))
}

func TestLeavesAndBlank(t *testing.T) {
	tree := mustParse(t, `{"a":"1","b":{"c":"","d":"4"},"e":""}`)
	filled, total := tree.Leaves()
	assert.Equal(t, 2, filled)
	assert.Equal(t, 4, total)

	blank := tree.Blank()
	filled, total = blank.Leaves()
	assert.Equal(t, 0, filled)
	assert.Equal(t, 4, total)
	assert.Equal(t, `{"a":"","b":{"c":"","d":""},"e":""}`, jsonOf(t, blank))
}

func TestGetAndPath(t *testing.T) {
	tree := mustParse(t, `{"a":{"b":"x"}}`)
	v, ok := tree.Get(Path{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, Leaf("x"), v)

	_, ok = tree.Get(Path{"a", "b", "c"})
	assert.False(t, ok)

	assert.Equal(t, "a --> b", Path{"a", "b"}.String())
	assert.True(t, Path{"a"}.Equal(Path{"a"}))
	assert.False(t, Path{"a"}.Equal(Path{"a", "b"}))
}

func TestIndented(t *testing.T) {
	tree := mustParse(t, `{"a":"1"}`)
	assert.Equal(t, "{\n  \"a\": \"1\"\n}", tree.Indented())
	var nilTree *Tree
	assert.Equal(t, "{}", nilTree.Indented())
}
