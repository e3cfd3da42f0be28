package domain

import (
	"errors"
	"strings"
	"time"
)

// MaxAvatarBytes caps the encoded avatar carried by a registration.
const MaxAvatarBytes = 5 * 1024 * 1024

var (
	ErrUsernameRequired = errors.New("Please enter a username")
	ErrFullNameRequired = errors.New("Please enter your full name")
	ErrBirthYearInvalid = errors.New("Please enter a valid birth year")
	ErrAvatarTooLarge   = errors.New("Avatar size must be less than 5MB")
)

// Normalize trims the profile, fills defaults and derives the age from the
// birth year when none was given. The error text is shown to the user as is.
func (p *Profile) Normalize(now time.Time) error {
	p.Username = strings.TrimSpace(p.Username)
	p.FullName = strings.TrimSpace(p.FullName)
	if p.Username == "" {
		return ErrUsernameRequired
	}
	if p.FullName == "" {
		return ErrFullNameRequired
	}
	if p.BirthYear <= 0 {
		return ErrBirthYearInvalid
	}
	if len(p.Avatar) > MaxAvatarBytes {
		return ErrAvatarTooLarge
	}

	switch p.Gender {
	case "male", "female", "other":
	default:
		p.Gender = "other"
	}

	if p.Age <= 0 {
		if age := now.Year() - p.BirthYear; age > 0 && age < 150 {
			p.Age = age
		}
	}
	return nil
}
