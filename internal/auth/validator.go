package auth

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Credentials is the body of both register and login requests.
// Usernames end up in topic names (/topic/private.<a>.<b>), hence alphanum.
// bcrypt ignores everything past 72 bytes.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ValidateCredentials checks c against its validate tags.
func ValidateCredentials(c Credentials) error {
	return validate.Struct(c)
}
