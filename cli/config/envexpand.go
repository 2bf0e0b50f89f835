// Package config loads the ucdsync YAML config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME}, ${NAME:-fallback} and ${NAME:?message}. A bare
// $NAME is left alone so secrets containing '$' survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// MissingEnvError names a ${NAME:?message} reference whose variable is unset
// or empty.
type MissingEnvError struct {
	Name    string
	Message string
}

func (e *MissingEnvError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("environment variable %s is required", e.Name)
	}
	return fmt.Sprintf("environment variable %s is required: %s", e.Name, e.Message)
}

// ExpandEnv substitutes environment references in a config document.
//
// ${NAME} becomes the value or "" when unset. ${NAME:-fallback} uses
// fallback when the value is unset or empty. ${NAME:?message} reports a
// *MissingEnvError instead; every missing reference is returned, joined.
func ExpandEnv(input string) (string, error) {
	var (
		out     strings.Builder
		missing []error
		last    int
	)
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		out.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		value := os.Getenv(name)
		if value == "" && m[4] >= 0 {
			arg := input[m[6]:m[7]]
			switch input[m[4]:m[5]] {
			case ":-":
				value = arg
			case ":?":
				missing = append(missing, &MissingEnvError{Name: name, Message: arg})
			}
		}
		out.WriteString(value)
	}
	out.WriteString(input[last:])

	if len(missing) > 0 {
		return "", errors.Join(missing...)
	}
	return out.String(), nil
}
