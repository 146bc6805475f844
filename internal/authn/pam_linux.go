//go:build linux && cgo && pam

// PAM mode (§4.3 Mode B), bound directly to the system libpam the way
// doas_pam.c does, since no pure-Go libpam binding exists in this
// codebase's dependency graph.
//
// doas_pam.c supervises the authenticated child with a raw fork(): the
// parent keeps the PAM handle open and waitpid()s, the child returns to
// continue doas's own exec pipeline. The Go runtime does not support
// forking a multi-threaded process without exec'ing immediately
// afterward, so this mode instead re-execs the current binary with an
// internal marker env var once every PAM step up through pam_open_session
// has succeeded; the re-exec'd child inherits stdio and continues the
// exec pipeline, while this process becomes the watchsession supervisor
// exactly as doas_pam.c's parent branch does. The session-registering
// PAM calls (pam_setcred, pam_open_session) still run exactly once, in
// this process, before the child exists.
package authn

/*
#cgo LDFLAGS: -lpam -lpam_misc
#include <security/pam_appl.h>
#include <stdlib.h>
#include <string.h>

extern int goPamConv(int style, const char *msg, char **resp);

static int doas_pam_conv(int num_msg, const struct pam_message **msgs,
		struct pam_response **out, void *appdata_ptr) {
	struct pam_response *rsp = calloc(num_msg, sizeof(struct pam_response));
	if (!rsp)
		return PAM_BUF_ERR;
	for (int i = 0; i < num_msg; i++) {
		char *resp = NULL;
		int ret = goPamConv(msgs[i]->msg_style, msgs[i]->msg, &resp);
		if (ret != PAM_SUCCESS) {
			free(rsp);
			return ret;
		}
		rsp[i].resp = resp;
		rsp[i].resp_retcode = 0;
	}
	*out = rsp;
	return PAM_SUCCESS;
}

static struct pam_conv doas_pam_conv_struct = { doas_pam_conv, NULL };

static int doas_pam_start(const char *service, const char *user, pam_handle_t **pamh) {
	return pam_start(service, user, &doas_pam_conv_struct, pamh);
}
*/
import "C"

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"github.com/doasgo/doas/internal/persist"
)

const reexecMarker = "DOAS_PAM_CHILD"

// PAM implements Authenticator using the system's libpam, for service
// name "doas" (§4.3 Mode B).
type PAM struct {
	Store    *persist.Store
	Lifetime time.Duration
}

func NewPAM(store *persist.Store) *PAM {
	return &PAM{Store: store, Lifetime: persist.DefaultLifetime}
}

//export goPamConv
func goPamConv(style C.int, msg *C.char, resp **C.char) C.int {
	text := C.GoString(msg)
	switch style {
	case C.PAM_PROMPT_ECHO_OFF:
		answer, err := PromptPassword(text)
		if err != nil {
			return C.PAM_CONV_ERR
		}
		*resp = C.CString(answer)
	case C.PAM_PROMPT_ECHO_ON:
		answer, err := PromptEcho(text)
		if err != nil {
			return C.PAM_CONV_ERR
		}
		*resp = C.CString(answer)
	case C.PAM_ERROR_MSG:
		fmt.Fprintln(os.Stderr, text)
	case C.PAM_TEXT_INFO:
		fmt.Fprintln(os.Stdout, text)
	default:
		return C.PAM_CONV_ERR
	}
	return C.PAM_SUCCESS
}

// Authenticate runs §4.3 Mode B steps 1-4, then re-execs the current
// process (step 5's Go-safe child) and supervises it (step 5's parent
// watchsession) until it exits. PAM_USER stays the invoker throughout:
// it is not re-set to the target user before pam_setcred and
// pam_open_session.
func (p *PAM) Authenticate(req Request) error {
	if os.Getenv(reexecMarker) == "1" {
		// We are the re-exec'd child: the parent already completed every
		// PAM step through pam_open_session before spawning us.
		return nil
	}

	if req.NoPass {
		return nil
	}

	var tokenFD int = -1
	skipAuthenticate := false
	if req.Persist && p.Store != nil {
		fd, valid, err := p.Store.OpenToken(p.Lifetime)
		if err == nil {
			if valid {
				skipAuthenticate = true
			}
			tokenFD = fd
		}
	}

	if !skipAuthenticate && !req.Interactive {
		if tokenFD >= 0 {
			closeToken(tokenFD)
		}
		return ErrNonInteractive
	}

	var pamh *C.pam_handle_t
	cservice := C.CString("doas")
	cuser := C.CString(req.InvokerName)
	defer C.free(unsafe.Pointer(cservice))
	defer C.free(unsafe.Pointer(cuser))

	if rc := C.doas_pam_start(cservice, cuser, &pamh); rc != C.PAM_SUCCESS {
		if tokenFD >= 0 {
			closeToken(tokenFD)
		}
		return fmt.Errorf("pam_start: %s", pamStrerror(pamh, rc))
	}

	setPamItem(pamh, C.PAM_RUSER, req.InvokerName)
	if tty := controllingTTYName(); tty != "" {
		setPamItem(pamh, C.PAM_TTY, tty)
	}

	if !skipAuthenticate {
		if rc := C.pam_authenticate(pamh, 0); rc != C.PAM_SUCCESS {
			C.pam_end(pamh, rc)
			if tokenFD >= 0 {
				closeToken(tokenFD)
			}
			return fmt.Errorf("%w: %s", ErrAuthRequired, pamStrerror(pamh, rc))
		}
	}

	if rc := C.pam_acct_mgmt(pamh, 0); rc == C.PAM_NEW_AUTHTOK_REQD {
		if rc2 := C.pam_chauthtok(pamh, C.PAM_CHANGE_EXPIRED_AUTHTOK); rc2 != C.PAM_SUCCESS {
			C.pam_end(pamh, rc2)
			if tokenFD >= 0 {
				closeToken(tokenFD)
			}
			return fmt.Errorf("pam_chauthtok: %s", pamStrerror(pamh, rc2))
		}
	} else if rc != C.PAM_SUCCESS {
		C.pam_end(pamh, rc)
		if tokenFD >= 0 {
			closeToken(tokenFD)
		}
		return fmt.Errorf("%w: pam_acct_mgmt: %s", ErrAuthRequired, pamStrerror(pamh, rc))
	}

	if req.Persist && p.Store != nil && tokenFD >= 0 {
		if err := p.Store.SetToken(tokenFD, p.Lifetime); err == nil {
			closeToken(tokenFD)
		}
	}

	if rc := C.pam_setcred(pamh, C.PAM_REINITIALIZE_CRED); rc != C.PAM_SUCCESS {
		C.pam_end(pamh, rc)
		return fmt.Errorf("pam_setcred: %s", pamStrerror(pamh, rc))
	}
	if rc := C.pam_open_session(pamh, 0); rc != C.PAM_SUCCESS {
		C.pam_setcred(pamh, C.PAM_DELETE_CRED)
		C.pam_end(pamh, rc)
		return fmt.Errorf("pam_open_session: %s", pamStrerror(pamh, rc))
	}

	return p.watchsession(pamh)
}

func (p *PAM) ClearPersistence() error {
	if p.Store == nil {
		return nil
	}
	return p.Store.Clear()
}

// watchsession re-execs the current process with reexecMarker set, then
// blocks on its exit the way doas_pam.c's parent blocks in waitpid. If
// SIGTERM, SIGALRM or SIGTSTP arrives first, it sends the child SIGTERM
// and escalates to SIGKILL after a 2s grace period, then re-raises the
// caught signal on itself.
func (p *PAM) watchsession(pamh *C.pam_handle_t) error {
	child := exec.Command(os.Args[0], os.Args[1:]...)
	child.Env = append(os.Environ(), reexecMarker+"=1")
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	if err := child.Start(); err != nil {
		C.pam_setcred(pamh, C.PAM_DELETE_CRED)
		C.pam_close_session(pamh, 0)
		C.pam_end(pamh, C.PAM_ABORT)
		return fmt.Errorf("spawning authenticated session: %w", err)
	}

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGALRM, syscall.SIGTSTP)
	defer signal.Stop(sigs)

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	var caught os.Signal
	var waitErr error
	select {
	case sig := <-sigs:
		caught = sig
		child.Process.Signal(syscall.SIGTERM)
		select {
		case waitErr = <-done:
		case <-time.After(2 * time.Second):
			child.Process.Kill()
			waitErr = <-done
		}
	case err := <-done:
		waitErr = err
	}

	C.pam_setcred(pamh, C.PAM_DELETE_CRED)
	C.pam_close_session(pamh, 0)
	C.pam_end(pamh, C.PAM_SUCCESS)

	// The re-exec'd child already ran the requested command; this
	// process must exit with its status rather than fall back into
	// doas's own exec pipeline a second time.
	if caught != nil {
		signal.Reset(caught)
		syscall.Kill(os.Getpid(), caught.(syscall.Signal))
	}
	return exitStatusToError(waitErr)
}

func exitStatusToError(err error) error {
	if err == nil {
		os.Exit(0)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				os.Exit(128 + int(status.Signal()))
			}
			os.Exit(status.ExitStatus())
		}
	}
	os.Exit(1)
	return nil
}

func setPamItem(pamh *C.pam_handle_t, item C.int, value string) {
	cval := C.CString(value)
	defer C.free(unsafe.Pointer(cval))
	C.pam_set_item(pamh, item, unsafe.Pointer(cval))
}

func pamStrerror(pamh *C.pam_handle_t, rc C.int) string {
	return C.GoString(C.pam_strerror(pamh, rc))
}

// controllingTTYName returns the tty basename with any "/dev/" prefix
// stripped, for PAM_TTY (§4.3 mode B step 1).
func controllingTTYName() string {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return ""
	}
	defer f.Close()
	name, err := ttyNameFromFd(int(f.Fd()))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(name, "/dev/")
}

func ttyNameFromFd(fd int) (string, error) {
	path := "/proc/self/fd/" + strconv.Itoa(fd)
	return os.Readlink(path)
}

func closeToken(fd int) {
	syscall.Close(fd)
}
