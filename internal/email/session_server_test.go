package email

import (
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
)

// startIMAPServer runs an in-memory IMAP server holding one seen INBOX
// message with UID 6, reachable as username/password.
func startIMAPServer(t *testing.T) *config.AccountConfig {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true
	go func() {
		_ = srv.Serve(l)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	addr := l.Addr().(*net.TCPAddr)
	return &config.AccountConfig{
		Name:         "local",
		EmailAddress: "contact@example.org",
		IMAPHost:     "127.0.0.1",
		IMAPPort:     addr.Port,
		IMAPTLS:      false,
		IMAPUsername: "username",
		IMAPPassword: "password",
		IMAPAuth:     "login",
	}
}

func TestSession_AgainstIMAPServer(t *testing.T) {
	acc := startIMAPServer(t)
	logger, _ := newTestLogger(t)

	s, err := NewSession(acc, credential.NewStatic(), WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, s.Connect())
	defer s.Disconnect()

	folders, err := s.ListFolders()
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX"}, folders)

	envs, err := s.ListEnvelopes("INBOX", 10)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	env := envs[0]
	assert.Equal(t, "6", env.UID)
	assert.Equal(t, "A little message, just for you", env.Subject)
	assert.Equal(t, "contact@example.org", env.From.Email)
	assert.Equal(t, "<0000000@localhost/>", env.MessageID)
	assert.True(t, env.Read)
	assert.NotZero(t, env.Size)

	msg, err := s.FetchContent("INBOX", "6")
	require.NoError(t, err)
	assert.Equal(t, "Hi there :)", strings.TrimSpace(msg.BodyText))
	assert.True(t, msg.Read)

	require.NoError(t, s.MarkUnread("INBOX", "6"))
	envs, err = s.ListEnvelopes("INBOX", 10)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.False(t, envs[0].Read)

	require.NoError(t, s.MarkRead("INBOX", "6"))
	msg, err = s.FetchContent("INBOX", "6")
	require.NoError(t, err)
	assert.True(t, msg.Read)

	err = s.SelectFolder("Missing")
	assert.True(t, IsSelection(err))

	require.NoError(t, s.Delete("INBOX", "6"))
	envs, err = s.ListEnvelopes("INBOX", 10)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestSession_TestConnectionAgainstIMAPServer(t *testing.T) {
	acc := startIMAPServer(t)
	logger, _ := newTestLogger(t)

	s, err := NewSession(acc, credential.NewStatic(), WithLogger(logger))
	require.NoError(t, err)
	ok, err := s.TestConnection()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, StateDisconnected, s.State())

	acc.IMAPPassword = "wrong"
	ok, err = s.TestConnection()
	assert.False(t, ok)
	assert.True(t, IsConnectivity(err))
}
