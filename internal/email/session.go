package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
	"github.com/brandon/mailcore/internal/message"
	"github.com/brandon/mailcore/pkg/types"
)

// SessionState is the lifecycle position of a Session
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAuthenticated
	StateSelected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session owns one IMAP connection for one account. Calls are sequential;
// a Session must not be shared between goroutines.
type Session struct {
	account *config.AccountConfig
	creds   credential.Provider
	dial    Dialer
	logger  *logrus.Logger
	now     func() time.Time

	conn     Conn
	state    SessionState
	selected string
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithDialer replaces the network dialer
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		s.dial = d
	}
}

// WithLogger sets the session logger
func WithLogger(logger *logrus.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source used for placeholder dates
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession creates a disconnected session for an account
func NewSession(acc *config.AccountConfig, creds credential.Provider, opts ...SessionOption) (*Session, error) {
	if acc == nil {
		return nil, fmt.Errorf("account config is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential provider is required")
	}

	s := &Session{
		account: acc,
		creds:   creds,
		dial:    DialIMAP,
		logger:  logrus.StandardLogger(),
		now:     time.Now,
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	return s.state
}

// SelectedFolder returns the selected folder, or "" when none is selected
func (s *Session) SelectedFolder() string {
	if s.state != StateSelected {
		return ""
	}
	return s.selected
}

// Account returns the account this session serves
func (s *Session) Account() *config.AccountConfig {
	return s.account
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("account", s.account.Name)
}

// Connect dials and authenticates. It is a no-op on a connected session.
func (s *Session) Connect() error {
	if s.state == StateAuthenticated || s.state == StateSelected {
		return nil
	}
	s.state = StateConnecting

	password, err := s.creds.Password(context.Background(), s.account, credential.IMAP)
	if err != nil {
		s.reset()
		return &ConnectError{Op: "resolve IMAP credentials", Err: err}
	}

	conn, err := s.dial(s.account)
	if err != nil {
		s.reset()
		return &ConnectError{Op: "connect to IMAP server", Err: err}
	}

	if err := s.authenticate(conn, password); err != nil {
		_ = conn.Logout()
		s.reset()
		return &ConnectError{Op: "login", Err: err}
	}

	s.conn = conn
	s.state = StateAuthenticated
	s.selected = ""

	s.log().WithFields(logrus.Fields{
		"host": s.account.IMAPHost,
		"port": s.account.IMAPPort,
	}).Info("Connected to IMAP server")
	return nil
}

func (s *Session) authenticate(conn Conn, password string) error {
	if strings.EqualFold(s.account.IMAPAuth, "plain") {
		return conn.Authenticate(sasl.NewPlainClient("", s.account.IMAPUsername, password))
	}
	return conn.Login(s.account.IMAPUsername, password)
}

// Disconnect logs out and releases the connection. It is safe to call in any state, repeatedly.
func (s *Session) Disconnect() error {
	if s.conn == nil {
		s.reset()
		return nil
	}

	conn := s.conn
	err := conn.Logout()
	if err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		terminate(conn)
		s.reset()
		s.log().WithError(err).Debug("Logout failed, connection closed")
		return fmt.Errorf("failed to logout: %w", err)
	}
	s.reset()
	return nil
}

func (s *Session) reset() {
	s.conn = nil
	s.state = StateDisconnected
	s.selected = ""
}

// drop abandons a connection that is known to be dead
func (s *Session) drop() {
	if s.conn != nil {
		terminate(s.conn)
	}
	s.reset()
}

func terminate(conn Conn) {
	if t, ok := conn.(interface{ Terminate() error }); ok {
		_ = t.Terminate()
	}
}

func (s *Session) requireAuth() error {
	if s.conn == nil || (s.state != StateAuthenticated && s.state != StateSelected) {
		return ErrNotConnected
	}
	return nil
}

// SelectFolder selects name. A rejected SELECT leaves no folder selected on
// the server (RFC 3501 6.3.1), so the session falls back to Authenticated.
func (s *Session) SelectFolder(name string) error {
	if err := s.requireAuth(); err != nil {
		return err
	}

	if _, err := s.conn.Select(name, false); err != nil {
		if s.connectionLost(err) {
			s.drop()
			return &ConnectError{Op: "select " + name, Err: err}
		}
		s.state = StateAuthenticated
		s.selected = ""
		return &SelectError{Folder: name, Err: err}
	}

	s.state = StateSelected
	s.selected = name
	s.log().WithField("folder", name).Debug("Selected folder")
	return nil
}

// EnsureFolderSelected selects name unless it is already the selected folder
func (s *Session) EnsureFolderSelected(name string) error {
	if name == "" {
		name = config.DefaultFolder
	}
	if err := s.requireAuth(); err != nil {
		return err
	}
	if s.state == StateSelected && s.selected == name {
		return nil
	}
	return s.SelectFolder(name)
}

// invalidateSelection forces the next EnsureFolderSelected to re-select
func (s *Session) invalidateSelection() {
	if s.state == StateSelected {
		s.state = StateAuthenticated
		s.selected = ""
	}
}

// commandFailure classifies an error returned by a command on the open connection
func (s *Session) commandFailure(command string, err error) error {
	if s.connectionLost(err) {
		s.drop()
		return &ConnectError{Op: strings.ToLower(command), Err: err}
	}
	s.invalidateSelection()
	return &CommandError{Command: command, Err: err}
}

func (s *Session) connectionLost(err error) bool {
	if lc, ok := s.conn.(interface{ LoggedOut() <-chan struct{} }); ok {
		select {
		case <-lc.LoggedOut():
			return true
		default:
		}
	}
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr) ||
		strings.Contains(err.Error(), "connection closed")
}

// ListFolders returns folder names in server order. The result is never
// empty: when nothing usable is listed it is just INBOX, and a failed LIST
// returns that fallback alongside the error.
func (s *Session) ListFolders() ([]string, error) {
	fallback := []string{config.DefaultFolder}
	if err := s.requireAuth(); err != nil {
		return fallback, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		name, ok := folderName(m)
		if !ok {
			s.log().WithField("mailbox", m).Debug("Skipping unusable folder entry")
			continue
		}
		folders = append(folders, name)
	}

	if err := <-done; err != nil {
		s.log().WithError(err).Warn("Failed to list folders")
		if len(folders) == 0 {
			folders = fallback
		}
		return folders, s.commandFailure("LIST", err)
	}

	if len(folders) == 0 {
		return fallback, nil
	}
	return folders, nil
}

func folderName(m *imap.MailboxInfo) (string, bool) {
	if m == nil {
		return "", false
	}
	name := m.Name
	if strings.TrimSpace(name) == "" || !utf8.ValidString(name) {
		return "", false
	}
	for _, attr := range m.Attributes {
		if strings.EqualFold(attr, imap.NoSelectAttr) {
			return "", false
		}
	}
	return name, true
}

// TestConnection connects, selects INBOX and disconnects. Failures are
// reported, never raised, and the session is always left disconnected.
func (s *Session) TestConnection() (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("imap connection test aborted: %v", r)
		}
		_ = s.Disconnect()
	}()

	if err := s.Connect(); err != nil {
		return false, err
	}
	if err := s.SelectFolder(config.DefaultFolder); err != nil {
		return false, err
	}
	return true, nil
}

// ListEnvelopes returns envelopes for the numerically highest limit UIDs of
// folder, newest first. Highest UID only approximates most recent: servers
// assign UIDs in arrival order by convention, not by guarantee.
// Messages that fail to fetch are skipped.
func (s *Session) ListEnvelopes(folder string, limit int) ([]types.Envelope, error) {
	if limit <= 0 {
		limit = config.DefaultSyncLimit
	}
	if err := s.EnsureFolderSelected(folder); err != nil {
		return nil, err
	}

	uids, err := s.conn.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, s.commandFailure("UID SEARCH", err)
	}
	uids = newestUIDs(uids, limit)

	envelopes := make([]types.Envelope, 0, len(uids))
	for _, uid := range uids {
		if err := s.EnsureFolderSelected(folder); err != nil {
			return nil, err
		}
		env, err := s.fetchEnvelope(folder, uid)
		if err != nil {
			if IsConnectivity(err) {
				return nil, err
			}
			s.log().WithError(err).WithFields(logrus.Fields{
				"folder": folder,
				"uid":    uid,
			}).Warn("Skipping message that failed to fetch")
			continue
		}
		envelopes = append(envelopes, *env)
	}

	s.log().WithFields(logrus.Fields{
		"folder": folder,
		"count":  len(envelopes),
	}).Debug("Listed envelopes")
	return envelopes, nil
}

// newestUIDs returns the limit highest non-zero UIDs in descending order.
// Servers usually assign UIDs in arrival order, so this approximates the
// newest messages without fetching dates. It is not a guarantee.
func newestUIDs(uids []uint32, limit int) []uint32 {
	sorted := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > 0 {
			sorted = append(sorted, uid)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

var headerSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
	Peek:         true,
}

var fullSection = &imap.BodySectionName{Peek: true}

func (s *Session) fetchEnvelope(folder string, uid uint32) (*types.Envelope, error) {
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchRFC822Size,
		imap.FetchInternalDate,
		headerSection.FetchItem(),
	}
	msg, err := s.fetchOne(uid, items)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if literal := msg.GetBody(headerSection); literal != nil {
		raw, err = io.ReadAll(literal)
		if err != nil {
			return nil, fmt.Errorf("failed to read header of uid %d: %w", uid, err)
		}
	}

	uidStr := strconv.FormatUint(uint64(uid), 10)
	res := message.DecodeHeader(raw, s.decodeOptions(folder, uidStr))
	if res.Outcome == message.OutcomePlaceholder {
		s.log().WithFields(logrus.Fields{
			"folder":   folder,
			"uid":      uid,
			"problems": res.Problems,
		}).Debug("Envelope decoded with placeholders")
	}

	env := res.Message.Envelope
	env.Account = s.account.Name
	env.Read = hasFlag(msg.Flags, imap.SeenFlag)
	env.Size = msg.Size
	if !msg.InternalDate.IsZero() {
		env.ReceivedAt = msg.InternalDate
	}
	return &env, nil
}

// FetchContent fetches and decodes one full message. The read flag is
// fetched separately and defaults to unread if that second fetch fails.
func (s *Session) FetchContent(folder, uid string) (*types.Message, error) {
	n, err := parseUID(uid)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureFolderSelected(folder); err != nil {
		return nil, err
	}

	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchRFC822Size,
		imap.FetchInternalDate,
		fullSection.FetchItem(),
	}
	msg, err := s.fetchOne(n, items)
	if err != nil {
		return nil, err
	}

	literal := msg.GetBody(fullSection)
	if literal == nil {
		return nil, fmt.Errorf("%w: uid %s returned no body", ErrMessageNotFound, uid)
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of uid %s: %w", uid, err)
	}

	res := message.Decode(raw, s.decodeOptions(folder, uid))
	if res.Outcome == message.OutcomePlaceholder {
		s.log().WithFields(logrus.Fields{
			"folder":   folder,
			"uid":      uid,
			"problems": res.Problems,
		}).Debug("Message decoded with placeholders")
	}

	content := res.Message
	content.Account = s.account.Name
	content.Size = msg.Size
	if content.Size == 0 {
		content.Size = uint32(len(raw))
	}
	if !msg.InternalDate.IsZero() {
		content.ReceivedAt = msg.InternalDate
	}

	read, err := s.fetchRead(folder, n)
	if err != nil {
		s.log().WithError(err).WithFields(logrus.Fields{
			"folder": folder,
			"uid":    uid,
		}).Warn("Failed to fetch flags, assuming unread")
	}
	content.Read = read

	return &content, nil
}

func (s *Session) fetchRead(folder string, uid uint32) (bool, error) {
	if err := s.EnsureFolderSelected(folder); err != nil {
		return false, err
	}
	msg, err := s.fetchOne(uid, []imap.FetchItem{imap.FetchUid, imap.FetchFlags})
	if err != nil {
		return false, err
	}
	return hasFlag(msg.Flags, imap.SeenFlag), nil
}

// fetchOne runs UID FETCH for a single UID and returns its message
func (s *Session) fetchOne(uid uint32, items []imap.FetchItem) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.UidFetch(seqset, items, messages)
	}()

	var found *imap.Message
	for msg := range messages {
		if found == nil && msg != nil && msg.Uid == uid {
			found = msg
		}
	}

	if err := <-done; err != nil {
		return nil, s.commandFailure("UID FETCH", err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: uid %d", ErrMessageNotFound, uid)
	}
	return found, nil
}

// SetRead adds or removes the \Seen flag
func (s *Session) SetRead(folder, uid string, read bool) error {
	n, err := parseUID(uid)
	if err != nil {
		return err
	}
	if err := s.EnsureFolderSelected(folder); err != nil {
		return err
	}

	var op imap.FlagsOp = imap.AddFlags
	if !read {
		op = imap.RemoveFlags
	}
	if err := s.storeFlag(n, op, imap.SeenFlag); err != nil {
		return err
	}

	s.log().WithFields(logrus.Fields{
		"folder": folder,
		"uid":    uid,
		"read":   read,
	}).Debug("Updated read flag")
	return nil
}

// MarkRead sets the \Seen flag
func (s *Session) MarkRead(folder, uid string) error {
	return s.SetRead(folder, uid, true)
}

// MarkUnread clears the \Seen flag
func (s *Session) MarkUnread(folder, uid string) error {
	return s.SetRead(folder, uid, false)
}

// Delete flags the message \Deleted and expunges the folder
func (s *Session) Delete(folder, uid string) error {
	n, err := parseUID(uid)
	if err != nil {
		return err
	}
	if err := s.EnsureFolderSelected(folder); err != nil {
		return err
	}

	if err := s.storeFlag(n, imap.AddFlags, imap.DeletedFlag); err != nil {
		return err
	}
	if err := s.conn.Expunge(nil); err != nil {
		return s.commandFailure("EXPUNGE", err)
	}

	s.log().WithFields(logrus.Fields{
		"folder": folder,
		"uid":    uid,
	}).Info("Deleted message")
	return nil
}

func (s *Session) storeFlag(uid uint32, op imap.FlagsOp, flag string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(op, true)
	if err := s.conn.UidStore(seqset, item, []interface{}{flag}, nil); err != nil {
		return s.commandFailure("UID STORE", err)
	}
	return nil
}

func (s *Session) decodeOptions(folder, uid string) message.DecodeOptions {
	address := s.account.EmailAddress
	if address == "" {
		address = s.account.Name
	}
	return message.DecodeOptions{
		UID:     uid,
		Account: address,
		Folder:  folder,
		Now:     s.now,
	}
}

// parseUID accepts only positive decimal integers that fit a 32-bit UID
func parseUID(uid string) (uint32, error) {
	if uid == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidUID)
	}
	for i := 0; i < len(uid); i++ {
		if uid[i] < '0' || uid[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidUID, uid)
		}
	}
	n, err := strconv.ParseUint(uid, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUID, uid)
	}
	return uint32(n), nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}
