package core

import "github.com/vetle/fleet/internal/model"

// ValidateCredential enforces the credential contract: a username plus
// exactly one of password and ssh key.
func ValidateCredential(c model.Credential) error {
	if c.Username == "" {
		return validationf("credential username is required")
	}

	hasPassword := c.Password != nil && *c.Password != ""
	hasKey := c.SSHKey != nil && *c.SSHKey != ""

	switch {
	case !hasPassword && !hasKey:
		return validationf("credential requires a password or an ssh key")
	case hasPassword && hasKey:
		return validationf("credential must carry a password or an ssh key, not both")
	}
	return nil
}
