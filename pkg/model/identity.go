package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type Gender string

const (
	GenderUnspecified Gender = ""
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
)

// ParseGender accepts "male" or "female" in any case. Empty input is
// GenderUnspecified.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return GenderUnspecified, nil
	case "male", "m":
		return GenderMale, nil
	case "female", "f":
		return GenderFemale, nil
	}
	return GenderUnspecified, goerr.Wrap(ErrInvalidGender, "unknown gender", goerr.V("gender", s))
}

// TeacherRoleClass is the sentinel role class used by teachers
const TeacherRoleClass = "Teacher"

// Identity is the already-resolved caller description
type Identity struct {
	Name      string `json:"name"`
	RoleClass string `json:"class"`
	Gender    Gender `json:"gender,omitempty"`
}

func (x Identity) Validate() error {
	if strings.TrimSpace(x.Name) == "" {
		return goerr.Wrap(ErrInvalidIdentity, "name is required")
	}
	if strings.TrimSpace(x.RoleClass) == "" {
		return goerr.Wrap(ErrInvalidIdentity, "class is required", goerr.V("name", x.Name))
	}
	switch x.Gender {
	case GenderUnspecified, GenderMale, GenderFemale:
	default:
		return goerr.Wrap(ErrInvalidGender, "unknown gender", goerr.V("gender", x.Gender))
	}
	return nil
}

// FirstName returns the first whitespace-delimited token of the name
func (x Identity) FirstName() string {
	fields := strings.Fields(x.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Salutation is "Sir" for male callers and "Ma'am" otherwise
func (x Identity) Salutation() string {
	if x.Gender == GenderMale {
		return "Sir"
	}
	return "Ma'am"
}

// DefaultUserID derives a conversation key from the display name when the
// caller did not supply one.
func (x Identity) DefaultUserID() UserID {
	return UserID(strings.TrimSpace(x.Name))
}
