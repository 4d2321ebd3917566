package util

import (
	"regexp"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

var codeRegex = regexp.MustCompile(`^[0-9a-f]{6,32}$`)

func IsValidCode(s string) bool {
	return codeRegex.MatchString(s)
}
