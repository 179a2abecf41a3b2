package testutil

import (
	"net"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// IMAPServer is an in-memory IMAP server with one user and an INBOX.
type IMAPServer struct {
	Addr     string
	Username string
	Password string
}

// NewIMAPServer starts an in-memory plaintext IMAP server on a loopback
// port. It is shut down when the test completes.
func NewIMAPServer(t *testing.T, username, password string) *IMAPServer {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(username, password)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("creating INBOX: %v", err)
	}
	memServer.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return &IMAPServer{Addr: ln.Addr().String(), Username: username, Password: password}
}

// HostPort splits Addr.
func (s *IMAPServer) HostPort(t *testing.T) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(s.Addr)
	if err != nil {
		t.Fatalf("splitting %q: %v", s.Addr, err)
	}
	return host, port
}

// Append stores raw in INBOX with the given flags.
func (s *IMAPServer) Append(t *testing.T, raw string, flags ...imap.Flag) {
	t.Helper()

	conn, err := net.Dial("tcp", s.Addr)
	if err != nil {
		t.Fatalf("dialing IMAP: %v", err)
	}
	c := imapclient.New(conn, nil)
	defer c.Close()

	if err := c.Login(s.Username, s.Password).Wait(); err != nil {
		t.Fatalf("logging in: %v", err)
	}

	cmd := c.Append("INBOX", int64(len(raw)), &imap.AppendOptions{Flags: flags})
	if _, err := cmd.Write([]byte(raw)); err != nil {
		t.Fatalf("writing message: %v", err)
	}
	if err := cmd.Close(); err != nil {
		t.Fatalf("closing append: %v", err)
	}
	if _, err := cmd.Wait(); err != nil {
		t.Fatalf("appending message: %v", err)
	}

	_ = c.Logout().Wait()
}

// ActivationEmail builds a minimal RFC 5322 message carrying link.
func ActivationEmail(to, subject, link string) string {
	return "From: club@example.com\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		"Please activate your account: " + link + "\r\n"
}
