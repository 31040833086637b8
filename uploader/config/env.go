package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRefPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*)|:\?([^}]*))?\}`)

// SubstituteEnvVars expands environment-variable references in YAML content:
//
//   - ${VAR}            empty string when unset
//   - ${VAR:-default}   default when unset or empty
//   - ${VAR:?message}   error when unset or empty
func SubstituteEnvVars(content string) (string, error) {
	var substErr error
	result := envRefPattern.ReplaceAllStringFunc(content, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		name := groups[1]
		value := os.Getenv(name)
		if value != "" {
			return value
		}
		switch {
		case strings.HasPrefix(groups[2], ":-"):
			return groups[3]
		case strings.HasPrefix(groups[2], ":?"):
			msg := strings.TrimSpace(groups[4])
			if msg == "" {
				msg = fmt.Sprintf("required environment variable %s is not set", name)
			}
			if substErr == nil {
				substErr = fmt.Errorf("%s", msg)
			}
		}
		return value
	})
	return result, substErr
}
