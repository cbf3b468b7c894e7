package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/pkg/types"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found in cache")

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

func (s *Store) db() *sqlx.DB {
	return s.cache.DB()
}

// addressBook is the JSON form of a message's address lists
type addressBook struct {
	ReplyTo []types.Address `json:"reply_to,omitempty"`
	To      []types.Address `json:"to,omitempty"`
	Cc      []types.Address `json:"cc,omitempty"`
	Bcc     []types.Address `json:"bcc,omitempty"`
}

// emailRow mirrors the emails table joined with account and folder names
type emailRow struct {
	ID          int64        `db:"id"`
	AccountID   int          `db:"account_id"`
	AccountName string       `db:"account_name"`
	FolderID    int          `db:"folder_id"`
	FolderPath  string       `db:"folder_path"`
	UID         string       `db:"uid"`
	MessageID   string       `db:"message_id"`
	ThreadID    string       `db:"thread_id"`
	Subject     string       `db:"subject"`
	SenderName  string       `db:"sender_name"`
	SenderEmail string       `db:"sender_email"`
	Recipients  string       `db:"recipients"`
	Refs        string       `db:"refs"`
	Date        time.Time    `db:"date"`
	ReceivedAt  sql.NullTime `db:"received_at"`
	BodyText    string       `db:"body_text"`
	BodyHTML    string       `db:"body_html"`
	Attachments string       `db:"attachments"`
	Size        int64        `db:"size"`
	IsRead      bool         `db:"is_read"`
	IsStarred   bool         `db:"is_starred"`
	Synthetic   bool         `db:"synthetic"`
	Degraded    bool         `db:"degraded"`
	CachedAt    time.Time    `db:"cached_at"`
}

const selectEmail = `
	SELECT e.id, e.account_id, a.name AS account_name, e.folder_id, f.path AS folder_path,
		e.uid, e.message_id, e.thread_id, e.subject, e.sender_name, e.sender_email,
		e.recipients, e.refs, e.date, e.received_at, e.body_text, e.body_html,
		e.attachments, e.size, e.is_read, e.is_starred, e.synthetic, e.degraded, e.cached_at
	FROM emails e
	JOIN accounts a ON e.account_id = a.id
	JOIN folders f ON e.folder_id = f.id
`

func newEmailRow(accountID, folderID int, msg *types.Message) (*emailRow, error) {
	recipients, err := json.Marshal(addressBook{
		ReplyTo: msg.ReplyTo,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recipients: %w", err)
	}
	refs, err := json.Marshal(nonNil(msg.References))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal references: %w", err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	if msg.Attachments == nil {
		attachments = []byte("[]")
	}

	row := &emailRow{
		AccountID:   accountID,
		FolderID:    folderID,
		UID:         msg.UID,
		MessageID:   msg.MessageID,
		ThreadID:    msg.ThreadID,
		Subject:     msg.Subject,
		SenderName:  msg.From.Name,
		SenderEmail: msg.From.Email,
		Recipients:  string(recipients),
		Refs:        string(refs),
		Date:        msg.Date.UTC(),
		BodyText:    msg.BodyText,
		BodyHTML:    msg.BodyHTML,
		Attachments: string(attachments),
		Size:        int64(msg.Size),
		IsRead:      msg.Read,
		Synthetic:   msg.Synthetic,
		Degraded:    msg.Degraded,
	}
	if !msg.ReceivedAt.IsZero() {
		row.ReceivedAt = sql.NullTime{Time: msg.ReceivedAt.UTC(), Valid: true}
	}
	return row, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *emailRow) toEmail() (*types.Email, error) {
	var book addressBook
	if err := json.Unmarshal([]byte(r.Recipients), &book); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}
	var refs []string
	if err := json.Unmarshal([]byte(r.Refs), &refs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal references: %w", err)
	}
	var attachments []types.Attachment
	if err := json.Unmarshal([]byte(r.Attachments), &attachments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
	}

	email := &types.Email{
		Message: types.Message{
			Envelope: types.Envelope{
				Account:   r.AccountName,
				Folder:    r.FolderPath,
				UID:       r.UID,
				MessageID: r.MessageID,
				ThreadID:  r.ThreadID,
				Subject:   r.Subject,
				From:      types.Address{Name: r.SenderName, Email: r.SenderEmail},
				Date:      r.Date,
				Read:      r.IsRead,
				Size:      uint32(r.Size),
				Synthetic: r.Synthetic,
			},
			ReplyTo:     book.ReplyTo,
			To:          book.To,
			Cc:          book.Cc,
			Bcc:         book.Bcc,
			References:  refs,
			BodyText:    r.BodyText,
			BodyHTML:    r.BodyHTML,
			Attachments: attachments,
			Degraded:    r.Degraded,
		},
		ID:        r.ID,
		AccountID: r.AccountID,
		FolderID:  r.FolderID,
		Starred:   r.IsStarred,
		CachedAt:  r.CachedAt,
	}
	if r.ReceivedAt.Valid {
		email.ReceivedAt = r.ReceivedAt.Time
	}
	return email, nil
}

// UpsertAccount upserts an account in the cache
func (s *Store) UpsertAccount(acc *config.AccountConfig) (int, error) {
	query := `
		INSERT INTO accounts (name, email_address, display_name, imap_host, imap_port, imap_username, smtp_host, smtp_port, smtp_username, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			email_address = excluded.email_address,
			display_name = excluded.display_name,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_username = excluded.imap_username,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			smtp_username = excluded.smtp_username,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`
	var id int
	err := s.db().QueryRowx(query,
		acc.Name, acc.EmailAddress, acc.DisplayName,
		acc.IMAPHost, acc.IMAPPort, acc.IMAPUsername,
		acc.SMTPHost, acc.SMTPPort, acc.SMTPUsername,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}
	return id, nil
}

// GetAccountID returns the account ID by name
func (s *Store) GetAccountID(name string) (int, error) {
	var id int
	err := s.db().Get(&id, "SELECT id FROM accounts WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get account ID: %w", err)
	}
	return id, nil
}

// UpsertFolder records a folder for an account and returns its ID
func (s *Store) UpsertFolder(accountID int, name, path string) (int, error) {
	query := `
		INSERT INTO folders (account_id, name, path)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, path) DO UPDATE SET
			name = excluded.name
		RETURNING id
	`
	var id int
	if err := s.db().QueryRowx(query, accountID, name, path).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert folder: %w", err)
	}
	return id, nil
}

// GetFolderID returns the folder ID by account and path
func (s *Store) GetFolderID(accountID int, path string) (int, error) {
	var id int
	err := s.db().Get(&id, "SELECT id FROM folders WHERE account_id = ? AND path = ?", accountID, path)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("folder %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get folder ID: %w", err)
	}
	return id, nil
}

// ListFolders lists folders for an account, or for every account when accountID is nil
func (s *Store) ListFolders(accountID *int) ([]types.Folder, error) {
	query := `
		SELECT f.id, f.account_id, a.name AS account_name, f.name, f.path, f.message_count, f.last_synced
		FROM folders f
		JOIN accounts a ON f.account_id = a.id
	`
	var args []interface{}
	if accountID != nil {
		query += " WHERE f.account_id = ? ORDER BY f.path"
		args = append(args, *accountID)
	} else {
		query += " ORDER BY a.name, f.path"
	}

	folders := []types.Folder{}
	if err := s.db().Select(&folders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	return folders, nil
}

// KnownMessages returns the Message-IDs stored for a folder with their read flags
func (s *Store) KnownMessages(accountID, folderID int) (types.KnownMessages, error) {
	rows, err := s.db().Queryx(
		"SELECT message_id, is_read FROM emails WHERE account_id = ? AND folder_id = ?",
		accountID, folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query known messages: %w", err)
	}
	defer rows.Close()

	known := make(types.KnownMessages)
	for rows.Next() {
		var id string
		var read bool
		if err := rows.Scan(&id, &read); err != nil {
			return nil, fmt.Errorf("failed to scan known message: %w", err)
		}
		known[id] = read
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read known messages: %w", err)
	}
	return known, nil
}

const insertEmail = `
	INSERT INTO emails (account_id, folder_id, uid, message_id, thread_id, subject, sender_name, sender_email,
		recipients, refs, date, received_at, body_text, body_html, attachments, size, is_read, synthetic, degraded)
	VALUES (:account_id, :folder_id, :uid, :message_id, :thread_id, :subject, :sender_name, :sender_email,
		:recipients, :refs, :date, :received_at, :body_text, :body_html, :attachments, :size, :is_read, :synthetic, :degraded)
	ON CONFLICT(account_id, folder_id, message_id) DO NOTHING
`

// ApplySync persists one sync result in a single transaction: new messages
// are inserted, read flags of known messages are updated, and the folder's
// count and sync time are refreshed. Stars are never touched.
func (s *Store) ApplySync(accountID, folderID int, res *types.SyncResult) error {
	tx, err := s.db().Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range res.New {
		row, err := newEmailRow(accountID, folderID, &res.New[i])
		if err != nil {
			return err
		}
		if _, err := tx.NamedExec(insertEmail, row); err != nil {
			return fmt.Errorf("failed to insert email %s: %w", res.New[i].MessageID, err)
		}
	}

	for _, u := range res.Updated {
		_, err := tx.Exec(
			"UPDATE emails SET is_read = ?, uid = ? WHERE account_id = ? AND folder_id = ? AND message_id = ?",
			u.Read, u.UID, accountID, folderID, u.MessageID,
		)
		if err != nil {
			return fmt.Errorf("failed to update read flag of %s: %w", u.MessageID, err)
		}
	}

	syncedAt := res.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	_, err = tx.Exec(`
		UPDATE folders SET
			message_count = (SELECT COUNT(*) FROM emails WHERE folder_id = ?),
			last_synced = ?
		WHERE id = ?
	`, folderID, syncedAt.UTC(), folderID)
	if err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"folder_id":  folderID,
		"new":        len(res.New),
		"updated":    len(res.Updated),
	}).Debug("Sync persisted")
	return nil
}

// GetEmail retrieves an email by ID
func (s *Store) GetEmail(emailID int64) (*types.Email, error) {
	return s.getOne(selectEmail+" WHERE e.id = ?", emailID)
}

// FindByMessageID returns the first cached copy of a message in any folder of the account
func (s *Store) FindByMessageID(accountID int, messageID string) (*types.Email, error) {
	return s.getOne(selectEmail+" WHERE e.account_id = ? AND e.message_id = ? ORDER BY e.id LIMIT 1", accountID, messageID)
}

func (s *Store) getOne(query string, args ...interface{}) (*types.Email, error) {
	var row emailRow
	err := s.db().Get(&row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return row.toEmail()
}

// UpdateBody replaces the cached bodies of an email
func (s *Store) UpdateBody(emailID int64, text, html string) error {
	res, err := s.db().Exec("UPDATE emails SET body_text = ?, body_html = ? WHERE id = ?", text, html, emailID)
	if err != nil {
		return fmt.Errorf("failed to update body: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("email %d: %w", emailID, ErrNotFound)
	}
	return nil
}

// SetReadLocal mirrors a read-flag change made on the server
func (s *Store) SetReadLocal(accountID, folderID int, uid string, read bool) error {
	_, err := s.db().Exec(
		"UPDATE emails SET is_read = ? WHERE account_id = ? AND folder_id = ? AND uid = ?",
		read, accountID, folderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to update read flag: %w", err)
	}
	return nil
}

// DeleteLocal removes a message deleted on the server
func (s *Store) DeleteLocal(accountID, folderID int, uid string) error {
	_, err := s.db().Exec(
		"DELETE FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?",
		accountID, folderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
	}
	return nil
}

// HasEmails checks if an account has any cached emails
func (s *Store) HasEmails(accountID int) (bool, error) {
	var count int
	if err := s.db().Get(&count, "SELECT COUNT(*) FROM emails WHERE account_id = ?", accountID); err != nil {
		return false, fmt.Errorf("failed to check emails count: %w", err)
	}
	return count > 0, nil
}
