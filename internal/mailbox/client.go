// Package mailbox scans an IMAP folder for unseen activation emails and
// flags them once they have been handled.
package mailbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/model"
)

// IMAPClient holds the connection parameters of the activation mailbox.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	insecure bool
	folder   string
	logger   *zap.Logger
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(cfg model.IMAPConfig, logger *zap.Logger) *IMAPClient {
	folder := cfg.Mailbox
	if folder == "" {
		folder = "INBOX"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAPClient{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		tls:      cfg.TLS,
		insecure: cfg.Insecure,
		folder:   folder,
		logger:   logger,
	}
}

// Open connects, authenticates and selects the configured folder. The
// caller must Close the returned Mailbox.
func (c *IMAPClient) Open(ctx context.Context) (*Mailbox, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		return nil, fmt.Errorf("selecting %s: %w", c.folder, err)
	}

	c.logger.Debug("mailbox opened",
		zap.String("host", c.host),
		zap.String("folder", c.folder),
	)
	return &Mailbox{client: client, folder: c.folder, logger: c.logger}, nil
}

func (c *IMAPClient) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.host, c.port)

	var client *imapclient.Client
	var err error

	switch {
	case c.insecure:
		var conn net.Conn
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			client = imapclient.New(conn, nil)
		}
	case c.tls:
		client, err = imapclient.DialTLS(addr, nil)
	default:
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		return nil, &AuthError{
			Username: c.username,
			Message:  fmt.Sprintf("authentication failed: %v", err),
		}
	}

	return client, nil
}

// Mailbox is an open, selected IMAP folder. Commands are serialized over
// the single connection, so it is safe for concurrent use.
type Mailbox struct {
	mu     sync.Mutex
	client *imapclient.Client
	folder string
	logger *zap.Logger
}

var (
	headerSection = &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	textSection   = &imap.FetchItemBodySection{Specifier: imap.PartSpecifierText, Peek: true}
)

// Search returns the unseen messages matching c. Bodies are fetched with
// PEEK so searching never marks anything seen.
func (m *Mailbox) Search(ctx context.Context, c Criteria) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{
			imap.UIDRange{Start: imap.UID(c.Window.Start), Stop: imap.UID(c.Window.End)},
		}},
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if c.Subject != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: c.Subject}}
	}

	searchData, err := m.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s in window %s: %w", m.folder, c.Window, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{headerSection, textSection},
	}

	fetchCmd := m.client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	messages := make([]Message, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			m.logger.Warn("collecting message data", zap.Error(err))
			continue
		}

		messages = append(messages, Message{
			UID:  uint32(buf.UID),
			To:   parseTo(buf.FindBodySection(headerSection)),
			Text: string(buf.FindBodySection(textSection)),
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching window %s: %w", c.Window, err)
	}

	return messages, nil
}

// FlagSeen adds \Seen to the message with the given UID.
func (m *Mailbox) FlagSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	storeCmd := m.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging UID %d seen: %w", uid, err)
	}
	return nil
}

// Close logs out and closes the connection.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.Logout().Wait(); err != nil {
		_ = m.client.Close()
		return fmt.Errorf("logging out: %w", err)
	}
	return m.client.Close()
}

// parseTo returns the first address of the TO header, decoded. A header
// that does not parse as an address list is returned verbatim.
func parseTo(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return ""
	}

	h := mail.Header{Header: message.Header{Header: th}}
	addrs, err := h.AddressList("To")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return th.Get("To")
}
