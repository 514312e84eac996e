package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Totality(t *testing.T) {
	data := Object(map[string]Value{
		"name": String("Alice"),
		"user": Object(map[string]Value{
			"id":    Number(123),
			"email": String("alice@example.com"),
			"profile": Object(map[string]Value{
				"age": Number(30),
			}),
		}),
	})

	tests := []struct {
		name string
		path []string
		want Value
	}{
		{"simple", []string{"name"}, String("Alice")},
		{"nested", []string{"user", "email"}, String("alice@example.com")},
		{"deep nested", []string{"user", "profile", "age"}, Number(30)},
		{"not found", []string{"nonexistent"}, Null},
		{"partial path not found", []string{"user", "nonexistent"}, Null},
		{"empty path", []string{}, Null},
		{"traverse through scalar", []string{"name", "x"}, Null},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Get(data, tt.path)
			assert.True(t, Equal(got, tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestGet_NonObjectNeverFails(t *testing.T) {
	assert.Equal(t, Null, Get(String("not an object"), []string{"field"}))
	assert.Equal(t, Null, Get(Null, []string{"field"}))
	assert.Equal(t, Null, Get(Number(5), []string{"field"}))
}

func TestGetDotted(t *testing.T) {
	data := Object(map[string]Value{
		"user": Object(map[string]Value{
			"age": Number(42),
		}),
	})
	got := GetDotted(data, "user.age")
	assert.True(t, Equal(got, Number(42)))
	assert.True(t, Equal(GetDotted(data, ""), Null))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Null.Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.False(t, Number(0).Truthy())
	assert.True(t, Number(1).Truthy())
	assert.False(t, String("").Truthy())
	assert.True(t, String("x").Truthy())
	assert.False(t, Array(nil).Truthy())
	assert.True(t, Array([]Value{Null}).Truthy())
	assert.False(t, Object(nil).Truthy())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Null, Null))
	assert.True(t, Equal(Number(1), Number(1)))
	assert.False(t, Equal(Number(1), Number(2)))
	assert.False(t, Equal(Number(1), String("1")))
	assert.True(t, Equal(Array([]Value{Number(1), Number(2)}), Array([]Value{Number(1), Number(2)})))
	assert.False(t, Equal(Array([]Value{Number(1)}), Array([]Value{Number(1), Number(2)})))
}

func TestCompare(t *testing.T) {
	c, ok := Compare(Number(1), Number(2))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare(String("a"), String("b"))
	require.True(t, ok)
	assert.Less(t, c, 0)

	_, ok = Compare(Null, Number(1))
	assert.False(t, ok)

	_, ok = Compare(String("a"), Number(1))
	assert.False(t, ok)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains(String("hello world"), String("world")))
	assert.False(t, Contains(String("hello"), String("xyz")))

	list := Array([]Value{String("a"), String("b")})
	assert.True(t, Contains(list, String("a")))
	assert.False(t, Contains(list, String("c")))

	obj := Object(map[string]Value{"fraud@a.com": Bool(true)})
	assert.True(t, Contains(obj, String("fraud@a.com")))
	assert.False(t, Contains(obj, String("ok@a.com")))
}

func TestJSONRoundTrip(t *testing.T) {
	original := Object(map[string]Value{
		"count":  Number(42),
		"active": Bool(true),
		"name":   String("x"),
		"tags":   Array([]Value{String("a"), String("b")}),
		"nested": Object(map[string]Value{"k": Null}),
	})

	data, err := original.MarshalJSON()
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.True(t, Equal(original, decoded))
}

func TestFromNative(t *testing.T) {
	v := FromNative(map[string]interface{}{
		"a": float64(1),
		"b": []interface{}{"x", "y"},
		"c": nil,
	})
	obj, ok := v.AsObject()
	require.True(t, ok)
	assert.True(t, Equal(obj["a"], Number(1)))
	assert.True(t, Equal(obj["c"], Null))
}
