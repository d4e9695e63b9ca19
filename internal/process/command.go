package process

import (
	"errors"
	"strings"
	"unicode"
)

// parseCommand splits a command string into arguments.
// Single and double quotes group words; a backslash escapes the next rune.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	quote := rune(0)
	started := false

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			started = true
		case quote != 0 && r == quote:
			quote = 0
		case r == '\\' && quote != '\'' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			started = true
		case quote == 0 && unicode.IsSpace(r):
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}

	if quote != 0 {
		return nil, errors.New("unclosed quote in command")
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}
