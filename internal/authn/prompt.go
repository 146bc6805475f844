package authn

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptPassword opens the controlling tty directly (never stdin, which
// the invoker may have redirected) and reads a line with echo disabled,
// mirroring doas_pam.c's prompt()/readpassphrase(RPP_ECHO_OFF) pair.
func PromptPassword(prompt string) (string, error) {
	return readLine(prompt, false)
}

// PromptEcho is the echo-on counterpart PAM's conversation function uses
// for PAM_PROMPT_ECHO_ON messages (§4.3 mode B step 2).
func PromptEcho(prompt string) (string, error) {
	return readLine(prompt, true)
}

func readLine(prompt string, echo bool) (string, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("no controlling tty: %w", err)
	}
	defer tty.Close()

	fmt.Fprint(tty, prompt)

	fd := int(tty.Fd())
	if echo {
		var line string
		_, err := fmt.Fscanln(tty, &line)
		return line, err
	}

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(tty)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
