package op

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQuery_CarriesSQL(t *testing.T) {
	var p Params
	p.SetString("name", "Ada").SetInt("age", 36)

	req := NewQuery("op-1", "INSERT INTO users (name, age) VALUES (:name, :age)", p, time.Unix(0, 0))

	assert.Equal(t, TypeQuery, req.Type)
	assert.Equal(t, "INSERT INTO users (name, age) VALUES (:name, :age)", req.SQL())
	assert.Equal(t, "Ada", req.Params.Strings["name"])
	assert.Equal(t, int64(36), req.Params.Ints["age"])
	assert.False(t, req.IsZero())
}

func TestNewRequest_OwnsItsParams(t *testing.T) {
	var p Params
	p.SetString("name", "Ada").SetStringArray("tags", []string{"a"})

	req := NewRequest("op-1", TypeQuery, p, time.Time{})

	p.SetString("name", "changed")
	p.StringArrays["tags"][0] = "changed"

	assert.Equal(t, "Ada", req.Params.Strings["name"])
	assert.Equal(t, []string{"a"}, req.Params.StringArrays["tags"])
}

func TestRequest_ZeroIsSentinel(t *testing.T) {
	assert.True(t, Request{}.IsZero())
}

func TestParamsFrom(t *testing.T) {
	p, err := ParamsFrom(map[string]any{
		"name":   "Ada",
		"age":    36,
		"price":  9.5,
		"active": true,
		"ids":    []int{1, 2},
		"none":   nil,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"name": "Ada", "none": ""}, p.Strings)
	assert.Equal(t, map[string]int64{"age": 36}, p.Ints)
	assert.Equal(t, map[string]float64{"price": 9.5}, p.Doubles)
	assert.Equal(t, map[string]bool{"active": true}, p.Bools)
	assert.Equal(t, map[string][]int64{"ids": {1, 2}}, p.IntArrays)
}

func TestParamsFrom_Unsupported(t *testing.T) {
	_, err := ParamsFrom(map[string]any{"bad": struct{}{}})
	assert.ErrorContains(t, err, `parameter "bad"`)
}

func TestParams_JSONIsSortedAndOmitsEmpty(t *testing.T) {
	var p Params
	p.SetString("query", "SELECT 1").SetInt("b", 2).SetInt("a", 1)

	got, err := p.JSON()
	require.NoError(t, err)
	assert.Equal(t, `{"strings":{"query":"SELECT 1"},"ints":{"a":1,"b":2}}`, got)
}
