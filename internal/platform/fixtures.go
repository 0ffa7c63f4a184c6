package platform

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand"
	"strings"
)

//go:embed fixturedata/first_names.txt
var firstNamesData string

// FixtureOptions configures development data.
type FixtureOptions struct {
	Count         int
	AdminUsername string
	AdminPassword string
	AdminEmail    string
	Seed          int64
	EnabledRatio  float64 // share of generated users left enabled
}

// DefaultFixtureOptions mirrors the development data set.
func DefaultFixtureOptions() FixtureOptions {
	return FixtureOptions{
		Count:         30,
		AdminUsername: "admin",
		AdminPassword: "admin",
		AdminEmail:    "admin@example.com",
		Seed:          1,
		EnabledRatio:  0.92,
	}
}

// FixtureUser is a created account with its clear-text password.
type FixtureUser struct {
	User     *User
	Password string
}

func firstNames() []string {
	var names []string
	for _, line := range strings.Split(firstNamesData, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names
}

const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!#%&*+-=?@_"

func randomPassword(rng *rand.Rand, minLen, maxLen int) string {
	n := minLen + rng.Intn(maxLen-minLen+1)
	b := make([]byte, n)
	for i := range b {
		b[i] = passwordAlphabet[rng.Intn(len(passwordAlphabet))]
	}
	return string(b)
}

var emailDomains = []string{"example.com", "example.org", "example.net"}

// LoadFixtures creates the admin account and opts.Count generated users.
// Names and e-mails are unique; generation is deterministic for a seed.
func LoadFixtures(ctx context.Context, svc *Service, opts FixtureOptions) ([]FixtureUser, error) {
	rng := rand.New(rand.NewSource(opts.Seed))

	admin, err := svc.Register(ctx, RegisterInput{
		Username: opts.AdminUsername,
		Email:    opts.AdminEmail,
		Password: opts.AdminPassword,
		Roles:    []string{RoleUser, RoleGM, RoleAdmin},
	})
	if err != nil {
		return nil, fmt.Errorf("fixture admin: %w", err)
	}
	created := []FixtureUser{{User: admin, Password: opts.AdminPassword}}

	names := firstNames()
	rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	used := map[string]bool{strings.ToLower(opts.AdminUsername): true}

	for i := 0; i < opts.Count; i++ {
		name := names[i%len(names)]
		if round := i / len(names); round > 0 {
			name = fmt.Sprintf("%s %d", name, round+1)
		}
		for used[strings.ToLower(name)] {
			name += "-" + fmt.Sprint(rng.Intn(1000))
		}
		used[strings.ToLower(name)] = true

		slug := Slugify(name)
		picture := fmt.Sprintf("https://picsum.photos/seed/%s/640/480", slug)
		password := randomPassword(rng, 8, 100)
		u, err := svc.Register(ctx, RegisterInput{
			Username:       name,
			Email:          fmt.Sprintf("%s.%d@%s", slug, i, emailDomains[rng.Intn(len(emailDomains))]),
			Password:       password,
			ProfilePicture: &picture,
			Roles:          []string{RoleUser},
			Disabled:       rng.Float64() >= opts.EnabledRatio,
		})
		if err != nil {
			return created, fmt.Errorf("fixture user %d: %w", i, err)
		}
		created = append(created, FixtureUser{User: u, Password: password})
	}
	return created, nil
}
