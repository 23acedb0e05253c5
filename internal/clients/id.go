package clients

import (
	"errors"
	"regexp"
)

// IDPattern is the shape shared by client ids and paid agent ids.
const IDPattern = `^[A-Za-z0-9._-]{3,64}$`

var (
	ErrInvalidClientID = errors.New("clientId must match " + IDPattern)

	idRegexp = regexp.MustCompile(IDPattern)
)

func ValidID(id string) bool {
	return idRegexp.MatchString(id)
}

func ValidateID(id string) error {
	if !ValidID(id) {
		return ErrInvalidClientID
	}
	return nil
}
