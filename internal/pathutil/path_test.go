package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"a.txt", "a.txt"},
		{"/a.txt", "a.txt"},
		{"./a.txt", "a.txt"},
		{".//./META-INF/MANIFEST.MF", "META-INF/MANIFEST.MF"},
		{"dir/./x", "dir/./x"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), tt.in)
	}
}

func TestBaseAndStem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, base, stem string
	}{
		{"", ".", "."},
		{"META-INF/ALICE.SF", "ALICE.SF", "ALICE"},
		{"META-INF/", "META-INF", "META-INF"},
		{"a.b.c", "a.b.c", "a.b"},
		{"dir/.hidden", ".hidden", ".hidden"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.base, Base(tt.in), tt.in)
		assert.Equal(t, tt.stem, Stem(tt.in), tt.in)
	}
}

func TestChild(t *testing.T) {
	t.Parallel()

	name, sub, ok := Child("META-INF/A.SF", "META-INF/")
	assert.True(t, ok)
	assert.False(t, sub)
	assert.Equal(t, "A.SF", name)

	name, sub, ok = Child("META-INF/x/A.SF", "META-INF/")
	assert.True(t, ok)
	assert.True(t, sub)
	assert.Equal(t, "x", name)

	_, _, ok = Child("lib/A.SF", "META-INF/")
	assert.False(t, ok)
}
