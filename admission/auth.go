package admission

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Clickin/querygate/errors"
)

// Authenticator verifies the request credential header against the
// configured credential set.
type Authenticator struct {
	header       string
	schemePrefix string
	credentials  [][]byte
}

// NewAuthenticator builds an authenticator. schemePrefix (e.g. "Key ") is
// stripped from the header value when the header is an Authorization-style
// header; for dedicated credential headers pass an empty prefix or leave
// the value without one.
func NewAuthenticator(header, schemePrefix string, credentials []string) *Authenticator {
	a := &Authenticator{header: header, schemePrefix: schemePrefix}
	for _, c := range credentials {
		a.credentials = append(a.credentials, []byte(c))
	}
	return a
}

// CheckRequest verifies the request's credential. The comparison runs
// against every configured credential in constant time per credential, so
// response timing does not reveal which credential, if any, nearly matched.
func (a *Authenticator) CheckRequest(r *http.Request) error {
	value := r.Header.Get(a.header)
	if value == "" {
		return errors.Newf(errors.AuthFailed, "missing %s header", a.header)
	}

	candidate := value
	if a.schemePrefix != "" && strings.EqualFold(a.header, "Authorization") {
		if !strings.HasPrefix(value, a.schemePrefix) {
			return errors.Newf(errors.AuthFailed, "malformed %s header", a.header)
		}
		candidate = value[len(a.schemePrefix):]
	}

	candidateBytes := []byte(candidate)
	matched := 0
	for _, cred := range a.credentials {
		matched |= subtle.ConstantTimeCompare(candidateBytes, cred)
	}
	if matched != 1 {
		return errors.New(errors.AuthFailed, "invalid credential")
	}
	return nil
}
