// Package identity reads the caller identity resolved upstream by the
// gateway. No authentication happens here.
package identity

import (
	"errors"
	"net/http"
	"strings"
)

const (
	UserHeader = "X-User-ID"
	RoleHeader = "X-User-Role"

	RoleOperator = "operator"
)

var ErrAnonymous = errors.New("missing user identity")

type Identity struct {
	UserID string
	Role   string
}

func (i Identity) Operator() bool {
	return i.Role == RoleOperator
}

func FromRequest(r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return Identity{}, ErrAnonymous
	}
	return Identity{
		UserID: id,
		Role:   strings.ToLower(strings.TrimSpace(r.Header.Get(RoleHeader))),
	}, nil
}
