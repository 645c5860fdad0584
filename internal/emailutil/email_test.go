package emailutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "a@b.com", Clean("  a@b.com\t"))
	assert.Equal(t, "User@Example.com", Clean("User@Example.com"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  error
	}{
		{name: "plain", email: "a@b.com"},
		{name: "padded", email: "  a@b.com "},
		{name: "plus tag", email: "dev+orgs@example.co.uk"},
		{name: "empty", email: "", want: ErrEmpty},
		{name: "whitespace only", email: "   ", want: ErrEmpty},
		{name: "no at", email: "ab.com", want: ErrMalformed},
		{name: "display name", email: "Ann <a@b.com>", want: ErrMalformed},
		{name: "trailing at", email: "a@", want: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.email))
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("a@Example.COM"))
	assert.Equal(t, "", Domain("nope"))
	assert.Equal(t, "", Domain("a@"))
}
