// internal/model/rawauthor_test.go
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawAuthorID(t *testing.T) {
	tests := []struct {
		name     string
		author   any
		email    any
		expected string
	}{
		{
			name:     "ascii identity",
			author:   "Simon Willison",
			email:    "swillison@gmail.com",
			expected: "13ae486343ea6454a93114c6f558ffea2f2c6874",
		},
		{
			name:     "non-ascii and html characters",
			author:   "José <dev>",
			email:    "j@x.io",
			expected: "8be8c02e169aae0367d1cd9b79edcac6345aef42",
		},
		{
			name:     "missing name",
			author:   nil,
			email:    "a@b.c",
			expected: "1c53489662d85739d9d9cbac3825138b042c2baa",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, RawAuthorID(test.author, test.email))
		})
	}
}

func TestRawAuthorID_Stable(t *testing.T) {
	assert.Equal(t, RawAuthorID("a", "b"), RawAuthorID("a", "b"))
	assert.NotEqual(t, RawAuthorID("a", "b"), RawAuthorID("b", "a"))
}
