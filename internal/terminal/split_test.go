package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPipeline(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"ls", []string{"ls"}},
		{"cat f | sort", []string{"cat f", "sort"}},
		{`echo "a|b" | uniq`, []string{`echo "a|b"`, "uniq"}},
		{`echo 'x | y'`, []string{`echo 'x | y'`}},
		{`echo a\|b`, []string{`echo a\|b`}},
		{"a | b | c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitPipeline(tt.line), tt.line)
	}
}

func TestSplitRedirect(t *testing.T) {
	stmt, r, err := splitRedirect(`echo "hi" > f.txt`)
	require.NoError(t, err)
	assert.Equal(t, `echo "hi"`, stmt)
	require.NotNil(t, r)
	assert.Equal(t, "f.txt", r.target)
	assert.False(t, r.append)

	stmt, r, err = splitRedirect(`echo more >> "my notes.txt"`)
	require.NoError(t, err)
	assert.Equal(t, "echo more", stmt)
	assert.Equal(t, "my notes.txt", r.target)
	assert.True(t, r.append)

	stmt, r, err = splitRedirect(`python -c "print(1 > 0)"`)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, `python -c "print(1 > 0)"`, stmt)

	_, _, err = splitRedirect("echo hi >")
	assert.Error(t, err)
	_, _, err = splitRedirect("echo hi > a b")
	assert.Error(t, err)
}

func TestRemainderAndUnquote(t *testing.T) {
	assert.Equal(t, `print('hi')`, remainder(`python   print('hi')`))
	assert.Equal(t, "", remainder("python"))
	assert.Equal(t, "x = 1", unquote(`"x = 1"`))
	assert.Equal(t, "x = 1", unquote(`'x = 1'`))
	assert.Equal(t, `"x = 1'`, unquote(`"x = 1'`))
}
