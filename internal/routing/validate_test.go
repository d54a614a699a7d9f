package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubdomain(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"good-name", true},
		{"api", true},
		{"a", true},
		{"v2", true},
		{"0day", true},
		{"-bad-", false},
		{"bad-", false},
		{"-bad", false},
		{"", false},
		{"UPPER", false},
		{"under_score", false},
		{"dot.ted", false},
		{strings.Repeat("a", 63), true},
		{strings.Repeat("a", 64), false},
	}
	for _, tt := range tests {
		err := ValidateSubdomain(tt.in)
		if tt.valid {
			assert.NoError(t, err, tt.in)
		} else {
			assert.ErrorIs(t, err, ErrInvalidInput, tt.in)
		}
	}
}

func TestValidateBasePath(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"/", true},
		{"/v1", true},
		{"/api/v2", true},
		{"v1", false},
		{"/v1/", false},
		{"", false},
		{"/has space", false},
		{"/" + strings.Repeat("a", 254), true},
		{"/" + strings.Repeat("a", 255), false},
	}
	for _, tt := range tests {
		err := ValidateBasePath(tt.in)
		if tt.valid {
			assert.NoError(t, err, tt.in)
		} else {
			assert.ErrorIs(t, err, ErrInvalidInput, tt.in)
		}
	}
}
