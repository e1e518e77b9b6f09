package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

type invite struct {
	Email string   `json:"email" validate:"required,email"`
	Name  string   `json:"name" validate:"max=5"`
	Lat   *float64 `json:"latitude" validate:"omitempty,latitude"`
}

func TestValidate(t *testing.T) {
	v := New()
	bad := 123.0

	tests := []struct {
		name    string
		in      invite
		wantErr string
	}{
		{name: "valid", in: invite{Email: "a@b.co"}},
		{name: "missing email", in: invite{}, wantErr: "email is required"},
		{name: "bad email", in: invite{Email: "nope"}, wantErr: "email must be a valid email address"},
		{name: "long name", in: invite{Email: "a@b.co", Name: "abcdefg"}, wantErr: "name must be at most 5 long"},
		{name: "bad latitude", in: invite{Email: "a@b.co", Lat: &bad}, wantErr: "latitude must be a valid latitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.in)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateField(t *testing.T) {
	v := New()
	assert.NoError(t, v.ValidateField("email", "a@b.co", "required", "email"))

	err := v.ValidateField("email", "", "required", "email")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")
}
