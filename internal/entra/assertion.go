// assertion.go — нормализация claims id_token Entra ID в утверждение
// личности, с которым работает остальной код.
package entra

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Ошибки нормализации утверждения.
var (
	// ErrNoExternalID — в id_token нет ни oid, ни sub.
	ErrNoExternalID = errors.New("id_token не содержит идентификатора пользователя")
	// ErrNoEmail — в id_token нет ни preferred_username, ни email.
	ErrNoEmail = errors.New("id_token не содержит email")
)

// Assertion — нормализованное утверждение личности от Entra ID.
type Assertion struct {
	// ExternalID — стабильный идентификатор в Entra ID (oid, fallback sub).
	ExternalID string
	// Email — электронная почта (preferred_username, fallback email).
	Email string
	// Name — отображаемое имя (name, fallback preferred_username).
	Name string
	// JobTitle — должность из Graph; nil, если недоступна или пуста.
	JobTitle *string
}

// idTokenClaims — claims id_token Entra ID.
type idTokenClaims struct {
	jwt.RegisteredClaims
	// Oid — object ID пользователя в tenant (стабильный идентификатор).
	Oid string `json:"oid,omitempty"`
	// PreferredUsername — обычно UPN/email пользователя.
	PreferredUsername string `json:"preferred_username,omitempty"`
	// Email — email (присутствует при scope email).
	Email string `json:"email,omitempty"`
	// Name — отображаемое имя.
	Name string `json:"name,omitempty"`
	// Nonce — nonce авторизационного запроса.
	Nonce string `json:"nonce,omitempty"`
}

// assertionFromClaims нормализует claims в Assertion.
// oid предпочтительнее sub: sub уникален в паре (пользователь, приложение),
// oid — стабильный идентификатор пользователя в tenant.
func assertionFromClaims(claims *idTokenClaims) (*Assertion, error) {
	externalID := claims.Oid
	if externalID == "" {
		externalID = claims.Subject
	}
	if externalID == "" {
		return nil, ErrNoExternalID
	}

	email := claims.PreferredUsername
	if email == "" {
		email = claims.Email
	}
	if email == "" {
		return nil, ErrNoEmail
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}

	return &Assertion{
		ExternalID: externalID,
		Email:      email,
		Name:       name,
	}, nil
}
