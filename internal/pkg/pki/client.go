package pki

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// CommandClient is the narrow contract against the remote certificate
// authority. Issue is NOT safe to retry blindly: the CA creates key material
// on the first attempt and a replay would mint a duplicate identity.
// Package, Revoke and RefreshCRL are idempotent for the same common name and
// may be retried with bounded backoff.
type CommandClient interface {
	// Issue builds a client certificate and returns its serial number.
	Issue(ctx context.Context, commonName string) (string, error)
	// Package exports the issued certificate and key as a PKCS#12 bundle
	// protected by the unlock secret.
	Package(ctx context.Context, commonName, unlockSecret string) ([]byte, error)
	// Revoke marks the certificate revoked on the CA. Revoking an already
	// revoked identity is a no-op.
	Revoke(ctx context.Context, commonName string) error
	// RefreshCRL regenerates the revocation list. A revocation is not
	// complete until this has succeeded.
	RefreshCRL(ctx context.Context) error
	// HealthCheck reports whether the command channel is usable.
	HealthCheck(ctx context.Context) bool
}

// ErrInvalidCommonName is returned before any remote call when a common name
// contains characters outside the derived charset.
var ErrInvalidCommonName = errors.New("pki: invalid common name")

var commonNameRe = regexp.MustCompile(`^[a-z0-9.][a-z0-9.-]*$`)

// ValidCommonName reports whether cn is safe to embed in a remote command.
func ValidCommonName(cn string) bool {
	return cn != "" && len(cn) <= 64 && commonNameRe.MatchString(cn)
}

// TransportError wraps failures of the command channel itself (connection
// refused, handshake failure, timeout). These are retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("pki transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CommandError wraps a remote command that ran but failed. These are not
// retryable without operator judgment.
type CommandError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("pki command %s failed (exit %d): %s", e.Op, e.ExitCode, e.Stderr)
}

// IsRetryable reports whether err may be retried against the CA. Only
// transport-level failures qualify; a failed remote command must not be
// replayed automatically.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
