package bootstrap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gantry/pkg/rbac"
)

// Seed is the declarative first-boot state: whether to mint the initial
// global admin token, and which orgs and teams to provision.
type Seed struct {
	GlobalAdmin bool      `yaml:"global_admin"`
	Orgs        []OrgSeed `yaml:"orgs"`
}

// OrgSeed declares one organization and its teams
type OrgSeed struct {
	Name  string     `yaml:"name"`
	Teams []TeamSeed `yaml:"teams"`
}

// TeamSeed declares one team, its initial config fragment, and the
// permissions of its first token
type TeamSeed struct {
	Name             string                 `yaml:"name"`
	Config           map[string]interface{} `yaml:"config"`
	TokenPermissions []string               `yaml:"token_permissions"`
}

// LoadSeed reads and validates a seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &seed, nil
}

// Validate checks the seed for structural problems before anything runs, so
// a half-applied file never happens on account of a late typo.
func (s *Seed) Validate() error {
	seenOrgs := make(map[string]bool)
	for i, org := range s.Orgs {
		if org.Name == "" {
			return fmt.Errorf("org %d: name is required", i)
		}
		if seenOrgs[org.Name] {
			return fmt.Errorf("duplicate org %q", org.Name)
		}
		seenOrgs[org.Name] = true

		if len(org.Teams) == 0 {
			return fmt.Errorf("org %q: at least one team is required", org.Name)
		}
		seenTeams := make(map[string]bool)
		for j, team := range org.Teams {
			if team.Name == "" {
				return fmt.Errorf("org %q team %d: name is required", org.Name, j)
			}
			if seenTeams[team.Name] {
				return fmt.Errorf("org %q: duplicate team %q", org.Name, team.Name)
			}
			seenTeams[team.Name] = true

			for _, p := range team.TokenPermissions {
				if _, err := rbac.ParsePermission(p); err != nil {
					return fmt.Errorf("org %q team %q: %w", org.Name, team.Name, err)
				}
			}
		}
	}
	return nil
}

// idempotencyKey is deterministic per org/team pair so re-running the same
// seed file replays instead of duplicating
func idempotencyKey(orgName, teamName string) string {
	return fmt.Sprintf("bootstrap:%s:%s", orgName, teamName)
}
