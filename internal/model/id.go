package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeAttempt IDType = "att"
	IDTypeSession IDType = "ses"
	IDTypeContact IDType = "gen"
)

var validIDTypes = map[IDType]bool{
	IDTypeAttempt: true,
	IDTypeSession: true,
	IDTypeContact: true,
}

var idRegex = regexp.MustCompile(`^(att|ses|gen)-[0-9a-f]{32}$`)

func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return fmt.Sprintf("%s-%s", idType, strings.ReplaceAll(u.String(), "-", "")), nil
}

// MustGenerateID is GenerateID for callers that cannot recover from an entropy failure.
func MustGenerateID(idType IDType) string {
	id, err := GenerateID(idType)
	if err != nil {
		panic(err)
	}
	return id
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}
