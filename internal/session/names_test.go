package session

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"myproject", "myproject"},
		{"MyProject", "myproject"},
		{"my_project v2", "my-project-v2"},
		{"--weird--", "weird"},
		{"a..b//c", "a-b-c"},
		{"", ""},
		{strings.Repeat("x", 100), strings.Repeat("x", 63)},
	}
	for _, tc := range cases {
		assert.Equal(t, SanitizeName(tc.in), tc.want)
	}
}

func TestDeriveNameStableAndDistinct(t *testing.T) {
	a := DeriveName("/home/dev/projects/widget")
	b := DeriveName("/home/dev/projects/widget")
	c := DeriveName("/home/dev/other/widget")

	assert.Equal(t, a, b)
	assert.Assert(t, a != c, "same basename in different directories must derive distinct names")
	assert.Assert(t, strings.HasPrefix(a, "widget-"))
	assert.NilError(t, ValidateName(a))
}

func TestDeriveNameLongBasenameFitsLabelLimit(t *testing.T) {
	name := DeriveName("/tmp/" + strings.Repeat("verylongname", 10))
	assert.Assert(t, len(name) <= 63)
	assert.NilError(t, ValidateName(name))
}

func TestValidateName(t *testing.T) {
	assert.NilError(t, ValidateName("ok-name-1"))
	assert.ErrorContains(t, ValidateName(""), "empty")
	assert.ErrorContains(t, ValidateName("Bad"), "lower-case")
	assert.ErrorContains(t, ValidateName("-leading"), "lower-case")
	assert.ErrorContains(t, ValidateName(strings.Repeat("a", 64)), "exceeds")
}
