package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// UserRecord is the persisted form of the signed-in user.
//
// It is a flat record of primitive fields. Timestamps are Unix milliseconds.
type UserRecord struct {
	UID            string `json:"uid" validate:"required,max=128"`
	APIKey         string `json:"apiKey" validate:"required"`
	AppName        string `json:"appName" validate:"required"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	EmailVerified  bool   `json:"emailVerified,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	PhotoURL       string `json:"photoURL,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
	ProviderID     string `json:"providerId,omitempty"`
	IsAnonymous    bool   `json:"isAnonymous,omitempty"`
	CreatedAt      int64  `json:"createdAt,omitempty" validate:"gte=0"`
	LastLoginAt    int64  `json:"lastLoginAt,omitempty" validate:"gte=0"`
	RefreshToken   string `json:"refreshToken,omitempty"`
	AccessToken    string `json:"accessToken,omitempty"`
	ExpirationTime int64  `json:"expirationTime,omitempty" validate:"gte=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks required fields and field formats.
func (u *UserRecord) Validate() error {
	if err := recordValidator().Struct(u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return ErrMalformedRecord.WithDetails("invalid fields: " + strings.Join(fields, ", "))
		}
		return ErrMalformedRecord.WithCause(err)
	}
	return nil
}

// ToJSON returns the authoritative serialized form of the record.
func (u *UserRecord) ToJSON() (json.RawMessage, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, ErrMalformedRecord.WithCause(err)
	}
	return data, nil
}

// UserRecordFromJSON reconstructs and validates a record from its
// serialized form. Text that is not a JSON object or lacks required fields
// yields ErrMalformedRecord.
func UserRecordFromJSON(data []byte) (*UserRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedRecord.WithDetails("not a JSON object")
	}
	var u UserRecord
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return nil, ErrMalformedRecord.WithCause(err)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return &u, nil
}

// Clone returns a copy of the record.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// SameUser reports whether a and b refer to the same user. Two nil records
// are the same (signed out).
func SameUser(a, b *UserRecord) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UID == b.UID
}
