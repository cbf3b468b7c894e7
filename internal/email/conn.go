package email

import (
	"crypto/tls"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"

	"github.com/brandon/mailcore/internal/config"
)

//go:generate mockgen -source=conn.go -destination=mock_conn_test.go -package=email

// Conn is the subset of the IMAP client a Session drives. *client.Client
// satisfies it; tests substitute a mock.
type Conn interface {
	Login(username, password string) error
	Authenticate(auth sasl.Client) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
	Logout() error
}

// Dialer opens a transport to the account's IMAP server
type Dialer func(acc *config.AccountConfig) (Conn, error)

// DialIMAP connects with implicit TLS when the account asks for it and
// in plain text otherwise
func DialIMAP(acc *config.AccountConfig) (Conn, error) {
	addr := acc.IMAPAddr()
	if acc.IMAPTLS {
		c, err := client.DialTLS(addr, &tls.Config{
			ServerName: acc.IMAPHost,
			MinVersion: tls.VersionTLS12,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	c, err := client.Dial(addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}
