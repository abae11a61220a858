package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Project
// =============================================================================

// Project is the read model for project ownership checks. Full project CRUD
// lives outside this service.
type Project struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnedBy reports whether the given user owns the project.
func (p Project) OwnedBy(userID string) bool {
	return p.OwnerID == userID
}

// =============================================================================
// Deploy Account
// =============================================================================

// DeployAccount is one credential in a configuration's rotating pool, bound to
// a target repository and workflow file. EncryptedToken is ciphertext in the
// iv:authTag:ciphertext hex format.
type DeployAccount struct {
	ID             string `json:"id"`
	Login          string `json:"login"`
	EncryptedToken string `json:"encrypted_token"`
	Repository     string `json:"repository"` // owner/name
	WorkflowFile   string `json:"workflow_file"`
}

// Snapshot returns the snapshot persisted on a deployment after dispatch.
func (a DeployAccount) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		AccountID:      a.ID,
		Login:          a.Login,
		Repository:     a.Repository,
		WorkflowFile:   a.WorkflowFile,
		EncryptedToken: a.EncryptedToken,
	}
}

// =============================================================================
// Environment Variables
// =============================================================================

// EnvVar declares an environment variable for a configuration. When Secret is
// true, DefaultValue is stored encrypted.
type EnvVar struct {
	Key          string `json:"key"`
	DefaultValue string `json:"default_value"`
	Required     bool   `json:"required"`
	Secret       bool   `json:"secret"`
}

// ResolveEnvVars merges provided values over configuration defaults and
// enforces required variables. Secret defaults are passed through as stored;
// decryption is the caller's responsibility.
func ResolveEnvVars(declared []EnvVar, provided map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(declared))
	for _, v := range declared {
		if val, ok := provided[v.Key]; ok && val != "" {
			resolved[v.Key] = val
			continue
		}
		if v.DefaultValue != "" {
			resolved[v.Key] = v.DefaultValue
			continue
		}
		if v.Required {
			return nil, fmt.Errorf("%w: %s", ErrMissingVariable, v.Key)
		}
	}
	return resolved, nil
}

// =============================================================================
// Project Configuration
// =============================================================================

// ProjectConfiguration holds a project's deploy accounts and environment
// variable declarations. It is reference data for deployments and is not
// mutated by this service.
type ProjectConfiguration struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Accounts  []DeployAccount `json:"accounts"`
	EnvVars   []EnvVar        `json:"env_vars"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BelongsTo reports whether the configuration belongs to the given project.
func (c ProjectConfiguration) BelongsTo(projectID string) bool {
	return c.ProjectID == projectID
}

// AccountAt returns the account at the given pool index.
func (c ProjectConfiguration) AccountAt(index int) (DeployAccount, bool) {
	if index < 0 || index >= len(c.Accounts) {
		return DeployAccount{}, false
	}
	return c.Accounts[index], true
}

// IndexOf returns the position of the account with the given ID, or -1.
func (c ProjectConfiguration) IndexOf(accountID string) int {
	for i, a := range c.Accounts {
		if a.ID == accountID {
			return i
		}
	}
	return -1
}
