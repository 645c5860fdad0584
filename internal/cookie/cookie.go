package cookie

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/dgellow/orgctl/internal/log"
)

// FlashCookie carries a one-shot notice to the next rendered console page.
const FlashCookie = "orgctl_flash"

const flashMaxAge = 5 * time.Minute

// SetFlash stores message for the next page that calls TakeFlash. The
// cookie is Secure only when the console itself is served over TLS.
func SetFlash(w http.ResponseWriter, r *http.Request, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(message)),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(flashMaxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Flash cookie set", map[string]any{
		"secure": r.TLS != nil,
	})
}

// TakeFlash returns the pending notice, if any, and clears it.
func TakeFlash(w http.ResponseWriter, r *http.Request) string {
	value, err := Get(r, FlashCookie)
	if err != nil || value == "" {
		return ""
	}
	Clear(w, FlashCookie)
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
