package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
	"github.com/brandon/mailcore/internal/message"
	"github.com/brandon/mailcore/pkg/types"
)

// Manager manages email operations across the configured accounts. Every
// live operation opens its own session and closes it before returning.
type Manager struct {
	accountManager *AccountManager
	store          *cache.Store
	creds          credential.Provider
	config         *config.Config
	logger         *logrus.Logger
	reconciler     *Reconciler

	sessionOpts []SessionOption
	senderOpts  []SenderOption
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithSessionOptions appends options to every session the manager creates
func WithSessionOptions(opts ...SessionOption) ManagerOption {
	return func(m *Manager) {
		m.sessionOpts = append(m.sessionOpts, opts...)
	}
}

// WithSenderOptions appends options to every sender the manager creates
func WithSenderOptions(opts ...SenderOption) ManagerOption {
	return func(m *Manager) {
		m.senderOpts = append(m.senderOpts, opts...)
	}
}

// NewManager creates a new email manager. cacheStore may be nil, in which
// case only live operations are available.
func NewManager(cfg *config.Config, cacheStore *cache.Store, creds credential.Provider, logger *logrus.Logger, opts ...ManagerOption) (*Manager, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	accountManager, err := NewAccountManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create account manager: %w", err)
	}

	m := &Manager{
		accountManager: accountManager,
		store:          cacheStore,
		creds:          creds,
		config:         cfg,
		logger:         logger,
		reconciler: NewReconciler(
			WithReconcilerLogger(logger),
			WithLimit(cfg.SyncLimit),
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Accounts returns the configured account names
func (m *Manager) Accounts() []string {
	return m.accountManager.ListAccounts()
}

// GetAccount returns an account by name
func (m *Manager) GetAccount(name string) (*config.AccountConfig, error) {
	return m.accountManager.GetAccount(name)
}

// Session creates a new, unconnected session for an account
func (m *Manager) Session(accountName string) (*Session, error) {
	acc, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return nil, err
	}
	opts := append([]SessionOption{WithLogger(m.logger)}, m.sessionOpts...)
	return NewSession(acc, m.creds, opts...)
}

// Sender creates a new sender for an account
func (m *Manager) Sender(accountName string) (*Sender, error) {
	acc, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return nil, err
	}
	opts := append([]SenderOption{WithSenderLogger(m.logger)}, m.senderOpts...)
	return NewSender(acc, m.creds, opts...)
}

// withSession connects a fresh session, runs fn, and disconnects
func (m *Manager) withSession(accountName string, fn func(*Session) error) error {
	s, err := m.Session(accountName)
	if err != nil {
		return err
	}
	if err := s.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := s.Disconnect(); err != nil {
			m.logger.WithError(err).WithField("account", s.account.Name).Debug("Disconnect failed")
		}
	}()
	return fn(s)
}

// cacheIDs makes sure the account and folder exist in the cache and returns their IDs
func (m *Manager) cacheIDs(acc *config.AccountConfig, folder string) (int, int, error) {
	if m.store == nil {
		return 0, 0, fmt.Errorf("cache is not configured")
	}
	accountID, err := m.store.GetAccountID(acc.Name)
	if err != nil {
		accountID, err = m.store.UpsertAccount(acc)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to create account in cache: %w", err)
		}
	}
	folderID, err := m.store.UpsertFolder(accountID, folder, folder)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to upsert folder: %w", err)
	}
	return accountID, folderID, nil
}

// SyncFolder reconciles one folder into the cache. Concurrent syncs of the
// same folder run one after the other. A cancelled sync still persists
// what it collected and returns ctx.Err().
func (m *Manager) SyncFolder(ctx context.Context, accountName, folder string) (*types.SyncResult, error) {
	acc, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return nil, err
	}
	if folder == "" {
		folder = config.DefaultFolder
	}

	unlock := m.accountManager.lockFolder(acc.Name, folder)
	defer unlock()

	accountID, folderID, err := m.cacheIDs(acc, folder)
	if err != nil {
		return nil, err
	}
	known, err := m.store.KnownMessages(accountID, folderID)
	if err != nil {
		return nil, err
	}

	s, err := m.Session(acc.Name)
	if err != nil {
		return nil, err
	}
	res, syncErr := m.reconciler.Sync(ctx, s, acc.Name, folder, known)
	if res == nil {
		return nil, syncErr
	}

	if err := m.store.ApplySync(accountID, folderID, res); err != nil {
		return nil, fmt.Errorf("failed to persist sync: %w", err)
	}
	return res, syncErr
}

// SyncAccount syncs one folder, or every folder when folder is empty. A
// failure in one folder is logged and the remaining folders still sync.
func (m *Manager) SyncAccount(ctx context.Context, accountName, folder string) ([]*types.SyncResult, error) {
	if folder != "" {
		res, err := m.SyncFolder(ctx, accountName, folder)
		if err != nil {
			return nil, err
		}
		return []*types.SyncResult{res}, nil
	}

	folders, err := m.ListFolders(accountName)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	var results []*types.SyncResult
	for _, name := range folders {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := m.SyncFolder(ctx, accountName, name)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if res != nil {
					results = append(results, res)
				}
				return results, err
			}
			m.logger.WithError(err).WithFields(logrus.Fields{
				"account": accountName,
				"folder":  name,
			}).Warn("Failed to sync folder")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// ListFolders lists the account's folders on the server and records them in
// the cache. When LIST itself fails the session's fallback is returned
// alongside the error.
func (m *Manager) ListFolders(accountName string) ([]string, error) {
	var folders []string
	err := m.withSession(accountName, func(s *Session) error {
		var err error
		folders, err = s.ListFolders()
		return err
	})
	if err != nil {
		return folders, err
	}

	if m.store != nil {
		acc, _ := m.accountManager.GetAccount(accountName)
		for _, f := range folders {
			if _, _, err := m.cacheIDs(acc, f); err != nil {
				m.logger.WithError(err).WithField("folder", f).Debug("Failed to record folder")
			}
		}
	}
	return folders, nil
}

// ListEnvelopes lists the newest envelopes of a folder
func (m *Manager) ListEnvelopes(accountName, folder string, limit int) ([]types.Envelope, error) {
	var envelopes []types.Envelope
	err := m.withSession(accountName, func(s *Session) error {
		var err error
		envelopes, err = s.ListEnvelopes(folder, limit)
		return err
	})
	return envelopes, err
}

// FetchContent fetches one full message from the server
func (m *Manager) FetchContent(accountName, folder, uid string) (*types.Message, error) {
	if _, err := parseUID(uid); err != nil {
		return nil, err
	}
	var msg *types.Message
	err := m.withSession(accountName, func(s *Session) error {
		var err error
		msg, err = s.FetchContent(folder, uid)
		return err
	})
	return msg, err
}

// SetRead changes the read flag on the server and mirrors it in the cache
func (m *Manager) SetRead(accountName, folder, uid string, read bool) error {
	if _, err := parseUID(uid); err != nil {
		return err
	}
	err := m.withSession(accountName, func(s *Session) error {
		return s.SetRead(folder, uid, read)
	})
	if err != nil {
		return err
	}

	m.mirror(accountName, folder, func(accountID, folderID int) error {
		return m.store.SetReadLocal(accountID, folderID, uid, read)
	})
	return nil
}

// Delete removes a message on the server and from the cache
func (m *Manager) Delete(accountName, folder, uid string) error {
	if _, err := parseUID(uid); err != nil {
		return err
	}
	err := m.withSession(accountName, func(s *Session) error {
		return s.Delete(folder, uid)
	})
	if err != nil {
		return err
	}

	m.mirror(accountName, folder, func(accountID, folderID int) error {
		return m.store.DeleteLocal(accountID, folderID, uid)
	})
	return nil
}

// mirror applies a server-side change to the cache. Cache failures are logged only.
func (m *Manager) mirror(accountName, folder string, fn func(accountID, folderID int) error) {
	if m.store == nil {
		return
	}
	acc, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return
	}
	if folder == "" {
		folder = config.DefaultFolder
	}
	accountID, folderID, err := m.cacheIDs(acc, folder)
	if err == nil {
		err = fn(accountID, folderID)
	}
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"account": acc.Name,
			"folder":  folder,
		}).Warn("Failed to update cache")
	}
}

// ProbeResult is the outcome of one connection test
type ProbeResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ConnectionReport holds the IMAP and SMTP probe results for an account
type ConnectionReport struct {
	Account string      `json:"account"`
	IMAP    ProbeResult `json:"imap"`
	SMTP    ProbeResult `json:"smtp"`
}

func probe(ok bool, err error) ProbeResult {
	r := ProbeResult{OK: ok && err == nil}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// TestConnection probes the account's IMAP and SMTP servers
func (m *Manager) TestConnection(ctx context.Context, accountName string) (*ConnectionReport, error) {
	acc, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return nil, err
	}
	report := &ConnectionReport{Account: acc.Name}

	s, err := m.Session(acc.Name)
	if err != nil {
		return nil, err
	}
	report.IMAP = probe(s.TestConnection())
	report.SMTP = probe(m.TestSMTP(ctx, acc.Name))

	m.logger.WithFields(logrus.Fields{
		"account": acc.Name,
		"imap":    report.IMAP.OK,
		"smtp":    report.SMTP.OK,
	}).Info("Connection test finished")
	return report, nil
}

// TestSMTP probes the account's SMTP server
func (m *Manager) TestSMTP(ctx context.Context, accountName string) (bool, error) {
	sender, err := m.Sender(accountName)
	if err != nil {
		return false, err
	}
	return sender.TestConnection(ctx)
}

// Send sends a new message from an account
func (m *Manager) Send(ctx context.Context, accountName string, c message.Compose) (string, error) {
	sender, err := m.Sender(accountName)
	if err != nil {
		return "", err
	}
	return sender.Send(ctx, c)
}

// SendReply replies to the message with the given Message-ID. When the
// original is cached, its References chain is carried over, an empty
// subject takes the original's, and an empty recipient list replies to
// the original's Reply-To or sender.
func (m *Manager) SendReply(ctx context.Context, accountName, messageID string, c message.Compose) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("message id is required for a reply")
	}
	sender, err := m.Sender(accountName)
	if err != nil {
		return "", err
	}

	var references []string
	if original := m.findOriginal(sender.account, messageID); original != nil {
		references = original.References
		if c.Subject == "" {
			c.Subject = original.Subject
		}
		if len(c.To) == 0 {
			if len(original.ReplyTo) > 0 {
				c.To = original.ReplyTo
			} else {
				c.To = []types.Address{original.From}
			}
		}
	}
	return sender.SendReply(ctx, messageID, references, c)
}

// SendForward forwards a message. When forwardID names a cached message,
// the original is quoted below whatever body is given.
func (m *Manager) SendForward(ctx context.Context, accountName, forwardID string, c message.Compose) (string, error) {
	sender, err := m.Sender(accountName)
	if err != nil {
		return "", err
	}
	if forwardID != "" {
		if original := m.findOriginal(sender.account, forwardID); original != nil {
			if c.Subject == "" {
				c.Subject = original.Subject
			}
			c.BodyText = c.BodyText + forwardedText(original)
		}
	}
	return sender.SendForward(ctx, c)
}

func (m *Manager) findOriginal(acc *config.AccountConfig, messageID string) *types.Email {
	if m.store == nil {
		return nil
	}
	accountID, err := m.store.GetAccountID(acc.Name)
	if err != nil {
		return nil
	}
	original, err := m.store.FindByMessageID(accountID, messageID)
	if err != nil {
		m.logger.WithError(err).WithField("message_id", messageID).Debug("Original message not cached")
		return nil
	}
	return original
}

func forwardedText(original *types.Email) string {
	return fmt.Sprintf("\n\n---------- Forwarded message ----------\nFrom: %s\nDate: %s\nSubject: %s\n\n%s",
		original.From.String(),
		original.Date.Format("Mon, 02 Jan 2006 15:04:05 -0700"),
		original.Subject,
		original.BodyText,
	)
}

// Store returns the cache store, which may be nil
func (m *Manager) Store() *cache.Store {
	return m.store
}
