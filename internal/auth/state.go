// Пакет auth — выпуск и проверка собственных access-токенов hydra-iam
// и stateless-защита OIDC-флоу (state/nonce в зашифрованном cookie,
// AES-256-GCM).
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Имя cookie с зашифрованным списком открытых auth flow.
const StateCookieName = "hydra_iam_state"

// Ошибки проверки state.
var (
	// ErrStateNotFound — state отсутствует в cookie: истёк, уже
	// использован или подделан.
	ErrStateNotFound = errors.New("state не найден или истёк")
)

// pendingFlow — одна незавершённая попытка входа.
type pendingFlow struct {
	// State — значение параметра state авторизационного запроса.
	State string `json:"state"`
	// Nonce — значение nonce, ожидаемое в id_token.
	Nonce string `json:"nonce"`
	// IssuedAt — время создания (Unix timestamp).
	IssuedAt int64 `json:"issued_at"`
}

// StateCipher хранит открытые auth flow клиента в одном зашифрованном
// cookie. Сервер не держит состояния: весь список живёт у клиента,
// целостность и конфиденциальность обеспечивает AES-256-GCM.
type StateCipher struct {
	// gcm — AEAD cipher для шифрования/дешифрования.
	gcm cipher.AEAD
	// ttl — время жизни одного state/nonce.
	ttl time.Duration
	// maxPending — максимум одновременно открытых flow.
	maxPending int
	// secure — Secure flag для cookie (true для HTTPS).
	secure bool
	// now — источник времени (подменяется в тестах).
	now func() time.Time
}

// NewStateCipher создаёт StateCipher.
// key — ключ шифрования: base64-кодированные 32 байта либо произвольная
// строка (хешируется SHA-256 до 32 байт).
func NewStateCipher(key string, ttl time.Duration, maxPending int, secure bool) (*StateCipher, error) {
	if key == "" {
		return nil, errors.New("ключ шифрования state не задан")
	}
	if ttl <= 0 {
		return nil, errors.New("время жизни state должно быть положительным")
	}
	if maxPending < 1 {
		return nil, errors.New("максимум открытых flow должен быть не меньше 1")
	}

	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(keyBytes) != 32 {
		// Не base64 — хешируем строку до 32 bytes через SHA-256
		// (для удобства конфигурации)
		h := sha256.Sum256([]byte(key))
		keyBytes = h[:]
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &StateCipher{
		gcm:        gcm,
		ttl:        ttl,
		maxPending: maxPending,
		secure:     secure,
		now:        time.Now,
	}, nil
}

// Issue создаёт новую пару state/nonce, добавляет её к открытым flow
// из cookie запроса и записывает обновлённый cookie в ответ.
// Истёкшие flow отбрасываются; при превышении лимита вытесняется
// самый старый.
func (sc *StateCipher) Issue(w http.ResponseWriter, r *http.Request) (state, nonce string, err error) {
	flows := sc.flowsFromRequest(r)

	state, err = randomToken()
	if err != nil {
		return "", "", fmt.Errorf("ошибка генерации state: %w", err)
	}
	nonce, err = randomToken()
	if err != nil {
		return "", "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	flows = append(flows, pendingFlow{
		State:    state,
		Nonce:    nonce,
		IssuedAt: sc.now().Unix(),
	})

	// Вытесняем самые старые сверх лимита
	if len(flows) > sc.maxPending {
		flows = flows[len(flows)-sc.maxPending:]
	}

	if err := sc.setCookie(w, flows); err != nil {
		return "", "", err
	}
	return state, nonce, nil
}

// Consume ищет flow с указанным state, удаляет его из cookie (одноразовое
// использование) и возвращает связанный nonce.
// Возвращает ErrStateNotFound, если state не найден или истёк.
func (sc *StateCipher) Consume(w http.ResponseWriter, r *http.Request, state string) (nonce string, err error) {
	flows := sc.flowsFromRequest(r)

	idx := -1
	for i, f := range flows {
		if f.State == state {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ErrStateNotFound
	}

	nonce = flows[idx].Nonce
	flows = append(flows[:idx], flows[idx+1:]...)

	if len(flows) == 0 {
		sc.clearCookie(w)
	} else if err := sc.setCookie(w, flows); err != nil {
		return "", err
	}
	return nonce, nil
}

// flowsFromRequest извлекает список открытых flow из cookie запроса.
// Отсутствующий или повреждённый cookie трактуется как пустой список.
func (sc *StateCipher) flowsFromRequest(r *http.Request) []pendingFlow {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return nil
	}

	flows, err := sc.decrypt(cookie.Value)
	if err != nil {
		return nil
	}
	return sc.prune(flows)
}

// prune отбрасывает истёкшие flow.
func (sc *StateCipher) prune(flows []pendingFlow) []pendingFlow {
	cutoff := sc.now().Add(-sc.ttl).Unix()
	alive := flows[:0]
	for _, f := range flows {
		if f.IssuedAt > cutoff {
			alive = append(alive, f)
		}
	}
	return alive
}

// encrypt сериализует и шифрует список flow в base64-строку.
func (sc *StateCipher) encrypt(flows []pendingFlow) (string, error) {
	plaintext, err := json.Marshal(flows)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации state: %w", err)
	}

	// Уникальный nonce шифрования для каждого cookie
	iv := make([]byte, sc.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("ошибка генерации IV: %w", err)
	}

	ciphertext := sc.gcm.Seal(iv, iv, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// decrypt дешифрует base64-строку обратно в список flow.
func (sc *StateCipher) decrypt(encrypted string) ([]pendingFlow, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	ivSize := sc.gcm.NonceSize()
	if len(ciphertext) < ivSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	iv, ciphertext := ciphertext[:ivSize], ciphertext[ivSize:]
	plaintext, err := sc.gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования state: %w", err)
	}

	var flows []pendingFlow
	if err := json.Unmarshal(plaintext, &flows); err != nil {
		return nil, fmt.Errorf("ошибка десериализации state: %w", err)
	}
	return flows, nil
}

// setCookie записывает зашифрованный список flow в cookie ответа.
func (sc *StateCipher) setCookie(w http.ResponseWriter, flows []pendingFlow) error {
	encrypted, err := sc.encrypt(flows)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    encrypted,
		Path:     "/auth",
		MaxAge:   int(sc.ttl.Seconds()),
		HttpOnly: true,
		Secure:   sc.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// clearCookie удаляет state cookie из ответа.
func (sc *StateCipher) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sc.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// randomToken возвращает 32 случайных байта в base64url без паддинга.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
