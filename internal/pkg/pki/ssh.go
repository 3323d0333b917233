package pki

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/ssh"

	"github.com/vpn-sentinel/sentinel/internal/pkg/env"
)

const defaultEasyRSADir = "/etc/openvpn/easy-rsa"

// SSHConfig holds the connection settings for the CA host.
type SSHConfig struct {
	Host           string        `validate:"required"`
	Port           string        `validate:"required"`
	User           string        `validate:"required"`
	PrivateKeyPEM  string        `validate:"required"`
	EasyRSADir     string        `validate:"required"`
	CommandTimeout time.Duration `validate:"gt=0"`
}

// NewSSHConfigFromEnv builds and validates the CA connection settings.
func NewSSHConfigFromEnv() (*SSHConfig, error) {
	cfg := &SSHConfig{
		Host:           strings.TrimSpace(env.GetEnv("PKI_HOST", "")),
		Port:           strings.TrimSpace(env.GetEnv("PKI_PORT", "22")),
		User:           strings.TrimSpace(env.GetEnv("PKI_USER", "")),
		PrivateKeyPEM:  env.GetEnv("PKI_SSH_KEY", ""),
		EasyRSADir:     strings.TrimSpace(env.GetEnv("PKI_EASYRSA_DIR", defaultEasyRSADir)),
		CommandTimeout: 20 * time.Second,
	}
	if raw := strings.TrimSpace(env.GetEnv("PKI_COMMAND_TIMEOUT", "")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.CommandTimeout = d
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("pki config invalid: %w", err)
	}
	return cfg, nil
}

// SSHClient executes CA commands over an SSH session per operation, mirroring
// the easy-rsa CLI contract on the CA host.
type SSHClient struct {
	cfg *SSHConfig
}

func NewSSHClient(cfg *SSHConfig) *SSHClient {
	return &SSHClient{cfg: cfg}
}

type commandResult struct {
	stdout string
	stderr string
}

// run opens a connection, executes one command and tears the session down.
// Operations are not assumed idempotent at this layer; callers decide
// retryability from the returned error type.
func (c *SSHClient) run(ctx context.Context, op, command string) (*commandResult, error) {
	signer, err := ssh.ParsePrivateKey([]byte(c.cfg.PrivateKeyPEM))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("parse private key: %w", err)}
	}

	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	dialer := net.Dialer{Timeout: c.cfg.CommandTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	clientCfg := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.CommandTimeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, &TransportError{Op: op, Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	if err := session.Start(command); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	go func() { done <- session.Wait() }()

	timeout := time.NewTimer(c.cfg.CommandTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		client.Close()
		return nil, &TransportError{Op: op, Err: ctx.Err()}
	case <-timeout.C:
		client.Close()
		return nil, &TransportError{Op: op, Err: context.DeadlineExceeded}
	case err = <-done:
	}

	res := &commandResult{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return res, &CommandError{Op: op, ExitCode: exitErr.ExitStatus(), Stderr: res.stderr}
		}
		return res, &TransportError{Op: op, Err: err}
	}
	return res, nil
}

func (c *SSHClient) Issue(ctx context.Context, commonName string) (string, error) {
	if !ValidCommonName(commonName) {
		return "", ErrInvalidCommonName
	}
	log.Infof("[PKI] Building client certificate for %s", commonName)

	buildCmd := fmt.Sprintf("cd %s && ./easyrsa build-client-full %s nopass", c.cfg.EasyRSADir, commonName)
	if _, err := c.run(ctx, "issue", buildCmd); err != nil {
		return "", err
	}

	serialCmd := fmt.Sprintf("openssl x509 -noout -serial -in %s/pki/issued/%s.crt", c.cfg.EasyRSADir, commonName)
	res, err := c.run(ctx, "issue-serial", serialCmd)
	if err != nil {
		return "", err
	}
	serial := parseSerial(res.stdout)
	if serial == "" {
		return "", &CommandError{Op: "issue-serial", ExitCode: 0, Stderr: "no serial in output"}
	}
	return serial, nil
}

func (c *SSHClient) Package(ctx context.Context, commonName, unlockSecret string) ([]byte, error) {
	if !ValidCommonName(commonName) {
		return nil, ErrInvalidCommonName
	}

	exportCmd := fmt.Sprintf(
		"cd %s/pki && openssl pkcs12 -export -out /tmp/%s.p12 -inkey private/%s.key -in issued/%s.crt -certfile ca.crt -passout pass:%s",
		c.cfg.EasyRSADir, commonName, commonName, commonName, unlockSecret,
	)
	if _, err := c.run(ctx, "package", exportCmd); err != nil {
		return nil, err
	}

	// Fetch base64-armored over stdout so the channel stays binary-safe.
	res, err := c.run(ctx, "package-fetch", fmt.Sprintf("base64 /tmp/%s.p12", commonName))
	if err != nil {
		return nil, err
	}
	bundle, decErr := base64.StdEncoding.DecodeString(strings.ReplaceAll(res.stdout, "\n", ""))
	if decErr != nil {
		return nil, &CommandError{Op: "package-fetch", ExitCode: 0, Stderr: "bundle not valid base64"}
	}

	if _, err := c.run(ctx, "package-cleanup", fmt.Sprintf("rm -f /tmp/%s.p12", commonName)); err != nil {
		// The bundle is already exported; a leftover temp file is not fatal.
		log.Warnf("[PKI] Could not remove temp bundle for %s: %v", commonName, err)
	}
	return bundle, nil
}

func (c *SSHClient) Revoke(ctx context.Context, commonName string) error {
	if !ValidCommonName(commonName) {
		return ErrInvalidCommonName
	}
	log.Infof("[PKI] Revoking certificate for %s", commonName)

	revokeCmd := fmt.Sprintf("cd %s && ./easyrsa revoke %s", c.cfg.EasyRSADir, commonName)
	_, err := c.run(ctx, "revoke", revokeCmd)
	if err != nil {
		var ce *CommandError
		// easy-rsa exits non-zero when the identity was revoked earlier;
		// that is success for our purposes.
		if errors.As(err, &ce) && strings.Contains(ce.Stderr, "already revoked") {
			return nil
		}
		return err
	}
	return nil
}

func (c *SSHClient) RefreshCRL(ctx context.Context) error {
	crlCmd := fmt.Sprintf("cd %s && ./easyrsa gen-crl", c.cfg.EasyRSADir)
	_, err := c.run(ctx, "refresh-crl", crlCmd)
	return err
}

func (c *SSHClient) HealthCheck(ctx context.Context) bool {
	res, err := c.run(ctx, "health-check", `echo "PKI OK"`)
	return err == nil && strings.Contains(res.stdout, "PKI OK")
}

func parseSerial(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "serial="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
