// Package hpc provides the gateway to the remote batch-computing cluster.
// It opens SSH sessions through a proxy jump (an intermediate SSH host opens
// a direct-tcpip channel to the HPC frontend, which the final client uses as
// its socket), submits and queries SLURM batch jobs, and moves tarred
// workspace directories between the server storage and the HPC scratch space
// over SFTP.
//
// Two session kinds exist per worker: an executor (SSH exec for sbatch and
// sacct) and an io-transfer (SFTP). Both authenticate with a passphraseless
// private key file whose existence is verified at startup.
//
// All remote commands run as login shells so the cluster's module system and
// profile scripts are in effect.
package hpc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"operandi.gwdg.de/broker/common"
)

// ErrKeyfileMissing is returned when the configured SSH key path does not
// exist or is not a regular file.
var ErrKeyfileMissing = errors.New("HPC SSH keyfile missing")

// ErrSubmitFailed is returned when sbatch exits non-zero or its output
// cannot be parsed into a job id.
var ErrSubmitFailed = errors.New("slurm job submission failed")

// sshPort is the SSH port on both the proxy and the target frontend.
const sshPort = "22"

// dialTimeout bounds the TCP/handshake phase of each SSH hop.
const dialTimeout = 30 * time.Second

// Config carries everything needed to reach the cluster.
type Config struct {
	Host           string // HPC frontend behind the proxy
	ProxyHost      string // intermediate jump host
	Username       string
	KeyPath        string        // passphraseless private key file
	ProjectDir     string        // project root below the user's scratch dir
	CommandTimeout time.Duration // hard timeout per remote command
}

// NewConfig derives the HPC gateway configuration from the broker
// configuration.
func NewConfig(cfg common.Config) Config {
	timeout := cfg.CommandTimeout
	if timeout == 0 {
		timeout = common.DefaultCommandTimeout
	}
	return Config{
		Host:           cfg.HPCHost,
		ProxyHost:      cfg.HPCProxyHost,
		Username:       cfg.HPCUsername,
		KeyPath:        cfg.HPCSSHKeyPath,
		ProjectDir:     cfg.HPCProjectDir,
		CommandTimeout: timeout,
	}
}

// CheckKeyfile verifies that the key path exists and is a regular file.
// Workers run this at startup so a misconfigured deployment fails before any
// message is consumed.
func CheckKeyfile(keyPath string) error {
	info, err := os.Stat(keyPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrKeyfileMissing, keyPath)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file: %s", ErrKeyfileMissing, keyPath)
	}
	return nil
}

// signerFromKeyfile creates an SSH signer from the private key file.
func signerFromKeyfile(keyPath string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyfile %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse keyfile %s: %w", keyPath, err)
	}
	return signer, nil
}

// dialThroughProxy opens the two-hop connection: dial the proxy host, open a
// direct-tcpip channel to the target, then run the SSH client handshake over
// that channel. Both the target client and the proxy client are returned so
// the caller can close them in order.
//
// Note: host keys are not verified; the cluster frontends rotate keys
// behind a shared DNS name.
func dialThroughProxy(cfg Config) (*ssh.Client, *ssh.Client, error) {
	if err := CheckKeyfile(cfg.KeyPath); err != nil {
		return nil, nil, err
	}
	signer, err := signerFromKeyfile(cfg.KeyPath)
	if err != nil {
		return nil, nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	proxyAddr := net.JoinHostPort(cfg.ProxyHost, sshPort)
	proxyClient, err := ssh.Dial("tcp", proxyAddr, clientConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial proxy host %s: %w", proxyAddr, err)
	}

	targetAddr := net.JoinHostPort(cfg.Host, sshPort)
	tunnelConn, err := proxyClient.Dial("tcp", targetAddr)
	if err != nil {
		proxyClient.Close()
		return nil, nil, fmt.Errorf("failed to open direct-tcpip channel to %s: %w", targetAddr, err)
	}

	clientConn, channels, requests, err := ssh.NewClientConn(tunnelConn, targetAddr, clientConfig)
	if err != nil {
		proxyClient.Close()
		return nil, nil, fmt.Errorf("failed SSH handshake with %s through proxy: %w", targetAddr, err)
	}

	return ssh.NewClient(clientConn, channels, requests), proxyClient, nil
}
