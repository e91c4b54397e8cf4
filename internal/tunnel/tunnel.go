// Package tunnel forwards a local ephemeral port to a remote TCP endpoint
// through an SSH host. It exists so the toolkit can reach databases that are
// only routable from an intermediary machine: the caller opens the tunnel,
// points the database client at the returned local address, and closes the
// tunnel when all query activity is done.
//
// The tunnel is an explicitly owned resource. Open returns it, Close releases
// it, and Close is safe to call more than once. There is no automatic
// teardown; leaving a tunnel open leaks the local port and the SSH session.
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/MarksonMarcolino/db-toolkit/internal/config"
)

// ErrEstablish is wrapped by every failure to bring a tunnel up:
// unreadable or malformed keys, unreachable hosts, rejected authentication,
// and local bind failures all satisfy errors.Is(err, ErrEstablish).
// Establishment is never retried.
var ErrEstablish = errors.New("tunnel establishment failed")

// Config describes one forwarding session.
type Config struct {
	// Host and Port locate the SSH server.
	Host string
	Port int

	// User and KeyFile authenticate the session. KeyFile is a path to a
	// PEM-encoded private key.
	User    string
	KeyFile string

	// RemoteHost and RemotePort are dialed from the SSH server for every
	// local connection.
	RemoteHost string
	RemotePort int

	// HostKey verifies the server's host key. Nil accepts any host key,
	// which matches the toolkit's trusted, pre-provisioned host assumption.
	HostKey ssh.HostKeyCallback
}

// FromEnv builds a Config from SSH_HOST, SSH_USER and SSH_PRIVATE_KEY, all
// required and reported together when missing. SSH_PORT defaults to 22.
// The remote endpoint is supplied by the caller, typically from the DB_*
// variables.
func FromEnv(remoteHost string, remotePort int) (Config, error) {
	if err := config.Require("SSH_HOST", "SSH_USER", "SSH_PRIVATE_KEY"); err != nil {
		return Config{}, err
	}
	port := 22
	if v := os.Getenv("SSH_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("SSH_PORT: %w", err)
		}
		port = p
	}
	return Config{
		Host:       os.Getenv("SSH_HOST"),
		Port:       port,
		User:       os.Getenv("SSH_USER"),
		KeyFile:    os.Getenv("SSH_PRIVATE_KEY"),
		RemoteHost: remoteHost,
		RemotePort: remotePort,
	}, nil
}

// Tunnel is an active forwarding session. It is exclusively owned by the
// caller, who must Close it exactly once when done; extra Close calls are
// harmless no-ops.
type Tunnel struct {
	client *ssh.Client
	ln     net.Listener
	remote string

	closeOnce sync.Once
	closed    chan struct{}
}

// Open reads the private key, authenticates to the SSH server, binds a local
// ephemeral port on 127.0.0.1 and starts forwarding. Every failure wraps
// ErrEstablish with the underlying cause attached.
func Open(cfg Config) (*Tunnel, error) {
	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %w", ErrEstablish, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", ErrEstablish, err)
	}

	hostKey := cfg.HostKey
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrEstablish, addr, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: bind local port: %w", ErrEstablish, err)
	}

	t := &Tunnel{
		client: client,
		ln:     ln,
		remote: net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(cfg.RemotePort)),
		closed: make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

// LocalPort returns the locally bound port.
func (t *Tunnel) LocalPort() int {
	return t.ln.Addr().(*net.TCPAddr).Port
}

// LocalAddr returns the local "host:port" to point database clients at.
func (t *Tunnel) LocalAddr() string {
	return t.ln.Addr().String()
}

// Close tears down the listener and the SSH session. It is idempotent;
// calls after the first return nil. In-flight forwards are interrupted.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		lerr := t.ln.Close()
		cerr := t.client.Close()
		if lerr != nil {
			err = lerr
		} else {
			err = cerr
		}
	})
	return err
}

func (t *Tunnel) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.closed:
			default:
				log.Printf("tunnel: accept: %v", err)
			}
			return
		}
		go t.forward(conn)
	}
}

// forward pipes one local connection to the remote endpoint through the SSH
// session. A failed remote dial closes only this connection.
func (t *Tunnel) forward(local net.Conn) {
	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		select {
		case <-t.closed:
		default:
			log.Printf("tunnel: dial %s: %v", t.remote, err)
		}
		_ = local.Close()
		return
	}

	go func() {
		_, _ = io.Copy(remote, local)
		_ = remote.Close()
	}()
	_, _ = io.Copy(local, remote)
	_ = local.Close()
}
