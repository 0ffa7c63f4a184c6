package platform

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validUser() *User {
	u := NewUser()
	u.Username = "Gaëlle d’Orval"
	u.Email = "gaelle@example.com"
	return u
}

func violations(t *testing.T, u *User) ValidationErrors {
	t.Helper()
	err := u.Validate()
	if err == nil {
		return nil
	}
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	return verrs
}

func ptr(s string) *string { return &s }

func TestUserDefaults(t *testing.T) {
	u := NewUser()
	assert.Equal(t, []string{RoleUser}, u.Roles)
	assert.True(t, u.IsEnabled)
	assert.False(t, u.IsAdmin())
}

func TestUserRoles(t *testing.T) {
	u := NewUser()
	u.AddRoles([]string{RoleGM, RoleAdmin, RoleGM})
	assert.Equal(t, []string{RoleUser, RoleGM, RoleAdmin}, u.Roles)
	assert.True(t, u.IsAdmin())
	assert.True(t, u.HasRole(RoleGM))
}

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*User)
		want   []string
	}{
		{"valid", func(*User) {}, nil},
		{"blank username", func(u *User) { u.Username = "" }, []string{"violation.name.blank", "violation.name.too_short"}},
		{"bad characters", func(u *User) { u.Username = "bob<script>" }, []string{"violation.name.invalid_characters"}},
		{"too long", func(u *User) { u.Username = strings.Repeat("é", 31) }, []string{"violation.name.too_long"}},
		{"thirty runes ok", func(u *User) { u.Username = strings.Repeat("é", 30) }, nil},
		{"blank email", func(u *User) { u.Email = "" }, []string{"violation.email.blank"}},
		{"bad email", func(u *User) { u.Email = "not-an-email" }, []string{"violation.email.wrong_format"}},
		{"email without tld", func(u *User) { u.Email = "a@localhost" }, []string{"violation.email.wrong_format"}},
		{"url ok", func(u *User) { u.ProfilePicture = ptr("https://img.example.com/a.png") }, nil},
		{"url scheme", func(u *User) { u.ProfilePicture = ptr("ftp://img.example.com/a.png") }, []string{"violation.url.wrong_format"}},
		{"url empty", func(u *User) { u.ProfilePicture = ptr("") }, []string{"violation.url.too_short"}},
		{"url long", func(u *User) { u.ProfilePicture = ptr("https://example.com/" + strings.Repeat("a", 500)) }, []string{"violation.url.too_long"}},
		{"role prefix", func(u *User) { u.AddRole("ADMIN") }, []string{"violation.roles.wrong_format"}},
		{"missing user role", func(u *User) { u.Roles = []string{RoleAdmin} }, []string{"violation.roles.missing_user_role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := validUser()
			tt.mutate(u)
			got := violations(t, u)
			var msgs []string
			for _, v := range got {
				msgs = append(msgs, v.Message)
			}
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{{Field: "email", Message: "violation.email.blank"}}
	assert.Contains(t, errs.Error(), "email: violation.email.blank")
	assert.True(t, errs.Has("violation.email.blank"))
	assert.False(t, errs.Has("violation.name.blank"))
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Gaëlle d’Orval":  "gaelle-d-orval",
		"  Jérôme  ":      "jerome",
		"François-Xavier": "francois-xavier",
		"Léa 2":           "lea-2",
		"’’":              "user",
		"ÉÈÊË":            "eeee",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("ab ", 40))), 63)
}
