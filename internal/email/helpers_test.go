package email

import (
	"bytes"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
)

func newTestLogger(t *testing.T) (*logrus.Logger, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	// only shown for failing tests
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		if t.Failed() {
			t.Log(buf.String())
		}
	})
	return logger, hook
}

func testAccount() *config.AccountConfig {
	return &config.AccountConfig{
		Name:         "work",
		EmailAddress: "me@example.com",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPTLS:      true,
		IMAPUsername: "me@example.com",
		IMAPPassword: "secret",
		IMAPAuth:     "login",
		SMTPHost:     "smtp.example.com",
		SMTPPort:     465,
		SMTPTLS:      true,
		SMTPUsername: "me@example.com",
		SMTPPassword: "secret",
	}
}

// newMockSession returns an unconnected session whose dialer hands out conn
func newMockSession(t *testing.T) (*Session, *MockConn) {
	t.Helper()
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)
	logger, _ := newTestLogger(t)

	s, err := NewSession(testAccount(), credential.NewStatic(),
		WithDialer(func(*config.AccountConfig) (Conn, error) { return conn, nil }),
		WithLogger(logger),
	)
	require.NoError(t, err)
	return s, conn
}

// newConnectedSession returns a session already past LOGIN
func newConnectedSession(t *testing.T) (*Session, *MockConn) {
	t.Helper()
	s, conn := newMockSession(t)
	conn.EXPECT().Login("me@example.com", "secret").Return(nil)
	require.NoError(t, s.Connect())
	return s, conn
}

func headerMessage(uid uint32, flags []string, header string) *imap.Message {
	section := &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier}}
	return &imap.Message{
		Uid:   uid,
		Flags: flags,
		Size:  uint32(len(header)),
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(header),
		},
	}
}

func fullMessage(uid uint32, raw string) *imap.Message {
	return &imap.Message{
		Uid:  uid,
		Size: uint32(len(raw)),
		Body: map[*imap.BodySectionName]imap.Literal{
			{}: bytes.NewBufferString(raw),
		},
	}
}

func flagsMessage(uid uint32, flags ...string) *imap.Message {
	return &imap.Message{Uid: uid, Flags: flags}
}

func requestedUID(seqset *imap.SeqSet) uint32 {
	if seqset == nil || len(seqset.Set) == 0 {
		return 0
	}
	return seqset.Set[0].Start
}

// serveFetch answers UID FETCH from msgs by requested UID; UIDs listed in
// fail get a tagged NO instead.
func serveFetch(msgs map[uint32]*imap.Message, fail map[uint32]error) func(*imap.SeqSet, []imap.FetchItem, chan *imap.Message) error {
	return func(seqset *imap.SeqSet, _ []imap.FetchItem, ch chan *imap.Message) error {
		defer close(ch)
		uid := requestedUID(seqset)
		if err, ok := fail[uid]; ok {
			return err
		}
		if msg, ok := msgs[uid]; ok {
			ch <- msg
		}
		return nil
	}
}

func header(subject, id string) string {
	return "From: Alice <alice@example.com>\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 04 Mar 2024 10:00:00 +0000\r\n" +
		"Message-ID: " + id + "\r\n\r\n"
}
