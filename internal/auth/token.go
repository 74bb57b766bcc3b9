// token.go — выпуск и проверка access-токенов hydra-iam (HS256).
// Токены подписываются общим секретом: внутренние платформы проверяют
// их тем же ключом без обращения к IAM.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Имя cookie, из которого берётся токен при отсутствии заголовка
// Authorization (браузерные клиенты).
const AccessTokenCookieName = "access_token"

// ErrUnauthenticated — токен отсутствует, невалиден или просрочен.
var ErrUnauthenticated = errors.New("пользователь не аутентифицирован")

// Principal — проверенная личность запроса, извлечённая из access-токена.
// Роли — снимок на момент выпуска токена, не живые данные из БД.
type Principal struct {
	// ID — идентификатор пользователя (sub).
	ID string
	// Email — электронная почта.
	Email string
	// Name — отображаемое имя.
	Name string
	// Roles — эффективные роли на момент выпуска токена.
	Roles []string
	// PositionID — идентификатор должности (пустая строка, если нет).
	PositionID string
}

// HasAnyRole проверяет наличие хотя бы одной из указанных ролей.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, required := range roles {
		for _, have := range p.Roles {
			if have == required {
				return true
			}
		}
	}
	return false
}

// accessClaims — структура claims access-токена hydra-iam.
type accessClaims struct {
	jwt.RegisteredClaims
	// Email — электронная почта пользователя.
	Email string `json:"email"`
	// Name — отображаемое имя.
	Name string `json:"name"`
	// Roles — снимок эффективных ролей.
	Roles []string `json:"roles"`
	// PositionID — идентификатор должности.
	PositionID string `json:"position_id,omitempty"`
}

// TokenIssuer выпускает access-токены hydra-iam.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	// now — источник времени (подменяется в тестах).
	now func() time.Time
}

// NewTokenIssuer создаёт TokenIssuer.
func NewTokenIssuer(secret, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("секрет подписи токенов не задан")
	}
	if ttl <= 0 {
		return nil, errors.New("время жизни токена должно быть положительным")
	}
	return &TokenIssuer{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue выпускает подписанный access-токен для пользователя.
// roles — эффективные роли на момент выпуска (снимок).
func (ti *TokenIssuer) Issue(p *Principal) (string, error) {
	now := ti.now()
	claims := &accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    ti.issuer,
			Audience:  jwt.ClaimStrings{ti.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
		Email:      p.Email,
		Name:       p.Name,
		Roles:      p.Roles,
		PositionID: p.PositionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

// TokenValidator проверяет access-токены hydra-iam.
type TokenValidator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// NewTokenValidator создаёт TokenValidator.
func NewTokenValidator(secret, issuer, audience string, leeway time.Duration) (*TokenValidator, error) {
	if secret == "" {
		return nil, errors.New("секрет подписи токенов не задан")
	}
	return &TokenValidator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}, nil
}

// Validate проверяет подпись и claims токена и возвращает Principal.
func (tv *TokenValidator) Validate(tokenString string) (*Principal, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (interface{}, error) { return tv.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tv.issuer),
		jwt.WithAudience(tv.audience),
		jwt.WithLeeway(tv.leeway),
	)
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}

	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}

	return &Principal{
		ID:         claims.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		Roles:      claims.Roles,
		PositionID: claims.PositionID,
	}, nil
}

// ValidateRequest извлекает токен из запроса и проверяет его.
// Приоритет: заголовок Authorization (Bearer), затем cookie access_token.
func (tv *TokenValidator) ValidateRequest(r *http.Request) (*Principal, error) {
	tokenString, err := extractToken(r)
	if err != nil {
		return nil, err
	}
	return tv.Validate(tokenString)
}

// extractToken достаёт токен из заголовка Authorization или cookie.
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", ErrUnauthenticated
		}
		return parts[1], nil
	}

	// Fallback для браузерных клиентов
	cookie, err := r.Cookie(AccessTokenCookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrUnauthenticated
	}
	return cookie.Value, nil
}
