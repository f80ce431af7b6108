package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// StateTTL bounds the time between redirecting to a provider and its callback.
const StateTTL = 10 * time.Minute

var (
	ErrInvalidState = errors.New("oauth: invalid state")
	ErrStateExpired = errors.New("oauth: state expired")
)

// State is the signed payload carried through the provider round trip.
type State struct {
	CSRF      string `json:"csrf"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// StateSigner issues and verifies HMAC-SHA256 signed states.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner requires a non-empty secret.
func NewStateSigner(secret string) (*StateSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("oauth: state secret is required")
	}
	return &StateSigner{secret: []byte(secret), ttl: StateTTL, now: time.Now}, nil
}

// Issue returns the encoded state and the csrf value the caller pins in a cookie.
func (s *StateSigner) Issue() (encoded string, csrf string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	csrf = base64.RawURLEncoding.EncodeToString(buf)
	now := s.now()
	payload, err := sonic.Marshal(State{
		CSRF:      csrf,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", "", err
	}
	combined := append(payload, s.sign(payload)...)
	return base64.RawURLEncoding.EncodeToString(combined), csrf, nil
}

// Verify checks signature and expiry and returns the decoded state.
func (s *StateSigner) Verify(encoded string) (State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) <= sha256.Size {
		return State{}, ErrInvalidState
	}
	payload := raw[:len(raw)-sha256.Size]
	sig := raw[len(raw)-sha256.Size:]
	if !hmac.Equal(sig, s.sign(payload)) {
		return State{}, ErrInvalidState
	}
	var st State
	if err := sonic.Unmarshal(payload, &st); err != nil || st.CSRF == "" {
		return State{}, ErrInvalidState
	}
	if s.now().Unix() >= st.ExpiresAt {
		return State{}, ErrStateExpired
	}
	return st, nil
}

func (s *StateSigner) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
