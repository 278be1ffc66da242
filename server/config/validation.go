package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags and the rules tags cannot express.
// Run it after ApplyDefaults.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.ACL.Enabled && !cfg.Auth.Enabled {
		return errors.New("acl: access control needs auth.enabled")
	}
	seen := make(map[string]bool)
	for i, c := range cfg.Tree.Collections {
		if seen[c.Path] {
			return fmt.Errorf("tree.collections[%d]: duplicate path %q", i, c.Path)
		}
		seen[c.Path] = true
		if c.Type == "calendar" && !cfg.CalDAV.Enabled {
			return fmt.Errorf("tree.collections[%d]: calendar %q needs caldav.enabled", i, c.Path)
		}
		if c.Type == "addressbook" && !cfg.CardDAV.Enabled {
			return fmt.Errorf("tree.collections[%d]: address book %q needs carddav.enabled", i, c.Path)
		}
	}
	return nil
}

// formatValidationError reports the first failed field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
