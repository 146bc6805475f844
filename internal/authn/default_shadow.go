//go:build linux && cgo && shadow

package authn

import "github.com/doasgo/doas/internal/persist"

func NewDefault(store *persist.Store) Authenticator {
	return NewShadow(store)
}
