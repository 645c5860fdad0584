package crypto

import (
	"strconv"
	"strings"
	"time"
)

// CSRFProtection issues stateless nonce:timestamp:signature tokens for the
// console's HTML forms.
type CSRFProtection struct {
	key []byte
	ttl time.Duration
}

func NewCSRFProtection(key []byte, ttl time.Duration) *CSRFProtection {
	return &CSRFProtection{key: key, ttl: ttl}
}

func (c *CSRFProtection) Generate() (string, error) {
	nonce, err := randomString(16)
	if err != nil {
		return "", err
	}
	data := nonce + ":" + strconv.FormatInt(time.Now().Unix(), 10)
	return data + ":" + SignData(data, c.key), nil
}

func (c *CSRFProtection) Validate(token string) bool {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	if time.Since(time.Unix(ts, 0)) > c.ttl {
		return false
	}
	return ValidateSignedData(parts[0]+":"+parts[1], parts[2], c.key)
}
