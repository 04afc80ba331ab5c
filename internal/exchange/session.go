package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Session owns the credentials and the per-account nonce counter. The
// exchange enforces strictly increasing nonces per key, so the whole
// read-increment-sign-send sequence is serialized behind one mutex.
type Session struct {
	key    string
	secret []byte

	mu    sync.Mutex
	nonce int64
}

// SignedForm is one signed request body ready to send.
type SignedForm struct {
	Key       string
	Nonce     string
	Signature string
	Body      string
}

// NewSession decodes the base64 API secret and seeds the nonce counter from
// the wall clock so a restarted process never reuses an old nonce.
func NewSession(key, secret string) (*Session, error) {
	if key == "" || secret == "" {
		return nil, errors.New("exchange credentials are required")
	}

	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, errors.Wrap(err, "decode api secret")
	}

	return &Session{
		key:    key,
		secret: decoded,
		nonce:  time.Now().UnixMilli(),
	}, nil
}

// Key returns the API key.
func (s *Session) Key() string {
	return s.key
}

// WithSignedForm issues the next nonce, signs the form for path and hands
// the signed request to send, all under the session mutex. Two concurrent
// callers can therefore never reach the exchange with reordered nonces.
func (s *Session) WithSignedForm(path string, form url.Values, send func(SignedForm) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	nonce := strconv.FormatInt(s.nonce, 10)

	if form == nil {
		form = url.Values{}
	}
	form.Set("nonce", nonce)
	body := form.Encode()

	return send(SignedForm{
		Key:       s.key,
		Nonce:     nonce,
		Signature: Sign(s.secret, path, nonce, body),
		Body:      body,
	})
}

// Sign computes base64(HMAC-SHA512(secret, path ++ SHA256(nonce ++ body))),
// the exchange's API-Sign header value.
func Sign(secret []byte, path, nonce, body string) string {
	digest := sha256.Sum256([]byte(nonce + body))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
