package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"a", "/a"},
		{"/a/b/", "/a/b"},
		{"//a//b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/..", "/"},
		{"/a/../../b", "/b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		cwd  string
		arg  string
		want string
	}{
		{"home", "/a", "~", "/"},
		{"empty", "/a", "", "/"},
		{"home relative", "/a", "~/x", "/x"},
		{"absolute", "/a", "/b/c", "/b/c"},
		{"relative", "/a", "b", "/a/b"},
		{"parent", "/a/b", "..", "/a"},
		{"parent clamped", "/", "..", "/"},
		{"dot", "/a", ".", "/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.cwd, tt.arg))
		})
	}
}

func TestParentAndBase(t *testing.T) {
	assert.Equal(t, "/a", Parent("/a/b"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/", Parent("/"))
	assert.Equal(t, "b.txt", Base("/a/b.txt"))
	assert.Equal(t, ".py", Ext("/x/Main.PY"))
}

func TestMarkerHelpers(t *testing.T) {
	assert.Equal(t, "/a/b/.keep", MarkerPath("/a/b"))
	assert.True(t, IsMarker("/a/.keep"))
	assert.False(t, IsMarker("/a/keep"))
	assert.True(t, IsHidden(".env"))
}

func TestWithinAndPrefix(t *testing.T) {
	assert.Equal(t, "/", Prefix("/"))
	assert.Equal(t, "/a/", Prefix("/a"))
	assert.True(t, Within("/a/b", "/a"))
	assert.True(t, Within("/a", "/a"))
	assert.False(t, Within("/ab", "/a"))
	assert.True(t, Within("/anything", "/"))
	assert.Equal(t, "a/b", Relative("/a/b"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("src"))
	for _, bad := range []string{"", ".", "..", "a/b", Marker} {
		assert.Error(t, ValidateName(bad), bad)
	}
}
