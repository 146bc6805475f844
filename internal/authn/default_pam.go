//go:build linux && cgo && pam

package authn

import "github.com/doasgo/doas/internal/persist"

func NewDefault(store *persist.Store) Authenticator {
	return NewPAM(store)
}
