package ssh

import (
	"fmt"

	"github.com/charmbracelet/keygen"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Identity is a client key pair on disk, ready to be referenced by
// private-key authentication.
type Identity struct {
	PrivateKeyPath string
	PublicKeyPath  string

	// AuthorizedKey is the single-line public key for the remote
	// authorized_keys file.
	AuthorizedKey string
	Fingerprint   string
}

// GenerateIdentity creates an ed25519 identity at path, or loads the pair
// already stored there. An empty passphrase writes the key unencrypted.
func GenerateIdentity(path, passphrase string) (*Identity, error) {
	opts := []keygen.Option{keygen.WithKeyType(keygen.Ed25519)}
	if passphrase != "" {
		opts = append(opts, keygen.WithPassphrase(passphrase))
	}

	kp, err := keygen.New(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}
	if !kp.KeyPairExists() {
		if err := kp.WriteKeys(); err != nil {
			return nil, fmt.Errorf("failed to write identity to %q: %w", path, err)
		}
		logrus.Infof("wrote new ed25519 identity to %q", path)
	}

	authorized := kp.RawAuthorizedKey()
	pub, _, _, _, err := ssh.ParseAuthorizedKey(authorized)
	if err != nil {
		return nil, fmt.Errorf("generated identity is unreadable: %w", err)
	}

	return &Identity{
		PrivateKeyPath: path,
		PublicKeyPath:  path + ".pub",
		AuthorizedKey:  string(authorized),
		Fingerprint:    ssh.FingerprintSHA256(pub),
	}, nil
}

// GenerateEphemeralKey produces an unencrypted ed25519 key pair in memory.
func GenerateEphemeralKey() (privateKey, authorizedKey []byte, err error) {
	kp, err := keygen.New("", keygen.WithKeyType(keygen.Ed25519))
	if err != nil {
		return nil, nil, err
	}
	return kp.RawPrivateKey(), kp.RawAuthorizedKey(), nil
}
