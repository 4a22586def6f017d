package keys

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PassphraseCallback supplies the passphrase for a sealed private key. It is
// invoked only when decryption actually requires it.
type PassphraseCallback func() (string, error)

// StaticPassphrase returns a callback that always yields the given
// passphrase.
func StaticPassphrase(passphrase string) PassphraseCallback {
	return func() (string, error) {
		return passphrase, nil
	}
}

// PassphraseFromEnv returns a callback that reads the passphrase from the
// named environment variable. An unset variable is an error.
func PassphraseFromEnv(name string) PassphraseCallback {
	return func() (string, error) {
		passphrase, ok := os.LookupEnv(name)
		if !ok {
			return "", keyError("environment variable %s is not set", name)
		}
		return passphrase, nil
	}
}

// TerminalPassphrase returns a callback that prompts on the controlling
// terminal and reads the passphrase without echo.
func TerminalPassphrase(prompt string) PassphraseCallback {
	return func() (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", keyError("standard input is not a terminal")
		}
		fmt.Fprint(os.Stderr, prompt)
		passphrase, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", wrapKeyError(err, "reading passphrase")
		}
		return string(passphrase), nil
	}
}
