// Package platform manages user accounts, password hashing and login
// sessions for the LNM frontends.
package platform

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Well-known roles.
const (
	RoleUser  = "ROLE_USER"
	RoleGM    = "ROLE_GM"
	RoleAdmin = "ROLE_ADMIN"
)

// User is a platform account.
type User struct {
	ID             string
	Username       string
	Email          string
	ProfilePicture *string
	Password       string // encoded hash, never the plain password
	Roles          []string
	Slug           string
	IsEnabled      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser returns a user with default roles, enabled.
func NewUser() *User {
	return &User{Roles: []string{RoleUser}, IsEnabled: true}
}

// Identifier is the name the user logs in with.
func (u *User) Identifier() string {
	return u.Username
}

// HasRole reports whether the user carries role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user is an administrator.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// AddRole appends role unless already present.
func (u *User) AddRole(role string) {
	if !u.HasRole(role) {
		u.Roles = append(u.Roles, role)
	}
}

// AddRoles adds each role in order.
func (u *User) AddRoles(roles []string) {
	for _, r := range roles {
		u.AddRole(r)
	}
}

// UserView is the public JSON shape of a user.
type UserView struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	ProfilePicture *string  `json:"profile_picture"`
	Slug           string   `json:"slug"`
	Roles          []string `json:"roles"`
}

// View returns the public representation of u.
func (u *User) View() UserView {
	return UserView{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
		Slug:           u.Slug,
		Roles:          u.Roles,
	}
}

// Violation is one failed constraint. Message is a translation key.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every violation found on an entity.
type ValidationErrors []Violation

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, violation := range v {
		msgs[i] = violation.Field + ": " + violation.Message
	}
	return "validation failed: " + strings.Join(msgs, ", ")
}

// Has reports whether message was raised.
func (v ValidationErrors) Has(message string) bool {
	for _, violation := range v {
		if violation.Message == message {
			return true
		}
	}
	return false
}

const (
	usernameMinLength = 1
	usernameMaxLength = 30
	emailMaxLength    = 255
	urlMaxLength      = 500
)

var (
	usernamePattern = regexp.MustCompile(`^[ a-zA-Z0-9éÉèÈêÊëËäÄâÂàÀïÏöÖôÔüÜûÛçÇ'’-]+$`)
	// HTML5 e-mail grammar.
	emailPattern = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$")
)

// Validate checks field constraints. Uniqueness is checked by the Service.
func (u *User) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, Violation{Field: field, Message: msg})
	}

	if u.Username == "" {
		add("username", "violation.name.blank")
	}
	if utf8.RuneCountInString(u.Username) < usernameMinLength {
		add("username", "violation.name.too_short")
	}
	if u.Username != "" {
		if !usernamePattern.MatchString(u.Username) {
			add("username", "violation.name.invalid_characters")
		}
		if utf8.RuneCountInString(u.Username) > usernameMaxLength {
			add("username", "violation.name.too_long")
		}
	}

	if u.Email == "" {
		add("email", "violation.email.blank")
	} else {
		if !emailPattern.MatchString(u.Email) {
			add("email", "violation.email.wrong_format")
		}
		if utf8.RuneCountInString(u.Email) > emailMaxLength {
			add("email", "violation.email.too_long")
		}
	}

	if u.ProfilePicture != nil {
		pic := *u.ProfilePicture
		switch n := utf8.RuneCountInString(pic); {
		case n < 1:
			add("profile_picture", "violation.url.too_short")
		case n > urlMaxLength:
			add("profile_picture", "violation.url.too_long")
		}
		if pic != "" && !validURL(pic) {
			add("profile_picture", "violation.url.wrong_format")
		}
	}

	for _, r := range u.Roles {
		if !strings.HasPrefix(r, "ROLE_") {
			add("roles", "violation.roles.wrong_format")
		}
	}
	if !u.HasRole(RoleUser) {
		add("roles", "violation.roles.missing_user_role")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validURL(s string) bool {
	parsed, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
