package gpgagent

import (
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"os"
)

// zBase32 is the alphabet gnupg's zb32.c uses for shortened socket
// directory names.
var zBase32 = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// runBaseCandidates are probed in order, each with /user/<uid> appended.
var runBaseCandidates = []string{"/run/gnupg", "/run", "/var/run/gnupg", "/var/run"}

// socketDirHash shortens a home directory path the way gnupg's homedir.c
// does: the first 15 bytes of the SHA-1 digest, in zBase32.
func socketDirHash(path string) string {
	sum := sha1.Sum([]byte(path))
	return zBase32.EncodeToString(sum[:15])
}

// runBase locates the per-user gnupg runtime directory.
func runBase() (string, error) {
	uid := os.Getuid()
	for _, base := range runBaseCandidates {
		ubase := fmt.Sprintf("%s/user/%d", base, uid)
		if fi, err := os.Stat(ubase); err == nil && fi.IsDir() {
			return ubase + "/gnupg", nil
		}
	}
	return "", agentError("cannot find GnuPG run base directory")
}

// SocketPath computes the gpg-agent socket path for the given home
// directory. An empty home selects the default per-user socket; otherwise
// the socket lives in a d.<hash> directory derived from the home path.
func SocketPath(homeDir string) (string, error) {
	base, err := runBase()
	if err != nil {
		return "", err
	}
	if homeDir == "" {
		return base + "/S.gpg-agent", nil
	}
	return fmt.Sprintf("%s/d.%s/S.gpg-agent", base, socketDirHash(homeDir)), nil
}
