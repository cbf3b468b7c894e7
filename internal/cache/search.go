package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/mailcore/pkg/types"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
	snippetLength      = 200
)

// SearchOptions contains search parameters. Nil fields do not filter.
type SearchOptions struct {
	AccountID *int
	FolderID  *int
	Sender    *string
	Recipient *string
	Subject   *string
	Body      *string
	Unread    *bool
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}

type summaryRow struct {
	ID          int64          `db:"id"`
	AccountName string         `db:"account_name"`
	FolderPath  string         `db:"folder_path"`
	UID         string         `db:"uid"`
	MessageID   string         `db:"message_id"`
	Subject     string         `db:"subject"`
	SenderName  string         `db:"sender_name"`
	SenderEmail string         `db:"sender_email"`
	Date        time.Time      `db:"date"`
	IsRead      bool           `db:"is_read"`
	BodyText    sql.NullString `db:"body_text"`
}

const selectSummary = `
	SELECT e.id, a.name AS account_name, f.path AS folder_path, e.uid, e.message_id,
		e.subject, e.sender_name, e.sender_email, e.date, e.is_read, e.body_text
	FROM emails e
	JOIN accounts a ON e.account_id = a.id
	JOIN folders f ON e.folder_id = f.id
`

// Search performs a search on cached emails
func (s *Store) Search(opts SearchOptions) ([]types.EmailSummary, error) {
	var conditions []string
	var args []interface{}

	if opts.AccountID != nil {
		conditions = append(conditions, "e.account_id = ?")
		args = append(args, *opts.AccountID)
	}

	if opts.FolderID != nil {
		conditions = append(conditions, "e.folder_id = ?")
		args = append(args, *opts.FolderID)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "(e.sender_email LIKE ? OR e.sender_name LIKE ?)")
		searchTerm := "%" + *opts.Sender + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Recipient != nil {
		conditions = append(conditions, "e.recipients LIKE ?")
		args = append(args, "%"+*opts.Recipient+"%")
	}

	if opts.Subject != nil {
		conditions = append(conditions, "e.subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.Unread != nil {
		conditions = append(conditions, "e.is_read = ?")
		args = append(args, !*opts.Unread)
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "e.date >= ?")
		args = append(args, opts.DateFrom.UTC())
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "e.date <= ?")
		args = append(args, opts.DateTo.UTC())
	}

	if opts.Body != nil {
		conditions = append(conditions, "e.id IN (SELECT rowid FROM emails_fts WHERE emails_fts MATCH ?)")
		args = append(args, ftsPhrase(*opts.Body))
	}

	return s.querySummaries(conditions, args, opts.Limit)
}

// SearchFTS performs a full-text search over subject, sender and body
func (s *Store) SearchFTS(query string, accountID *int, limit int) ([]types.EmailSummary, error) {
	conditions := []string{"e.id IN (SELECT rowid FROM emails_fts WHERE emails_fts MATCH ?)"}
	args := []interface{}{ftsPhrase(query)}

	if accountID != nil {
		conditions = append(conditions, "e.account_id = ?")
		args = append(args, *accountID)
	}

	return s.querySummaries(conditions, args, limit)
}

func (s *Store) querySummaries(conditions []string, args []interface{}, limit int) ([]types.EmailSummary, error) {
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	query := fmt.Sprintf("%s %s ORDER BY e.date DESC LIMIT ?", selectSummary, whereClause)
	args = append(args, limit)

	var rows []summaryRow
	if err := s.db().Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	results := make([]types.EmailSummary, 0, len(rows))
	for _, r := range rows {
		results = append(results, types.EmailSummary{
			ID:          r.ID,
			AccountName: r.AccountName,
			FolderPath:  r.FolderPath,
			UID:         r.UID,
			MessageID:   r.MessageID,
			Subject:     r.Subject,
			SenderName:  r.SenderName,
			SenderEmail: r.SenderEmail,
			Date:        r.Date,
			Read:        r.IsRead,
			Snippet:     snippet(r.BodyText),
		})
	}
	return results, nil
}

// ftsPhrase quotes user input as one FTS5 string so operators in it are literal
func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func snippet(body sql.NullString) string {
	if !body.Valid || body.String == "" {
		return ""
	}
	text := strings.Join(strings.Fields(body.String), " ")
	runes := []rune(text)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength]) + "..."
	}
	return text
}
