package email

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
	"github.com/brandon/mailcore/internal/message"
	"github.com/brandon/mailcore/pkg/types"
)

func newTestManager(t *testing.T, acc *config.AccountConfig) (*Manager, *cache.Store) {
	t.Helper()
	logger, _ := newTestLogger(t)

	c, err := cache.NewCache(cache.MemoryPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	store := cache.NewStore(c, logger)

	cfg := &config.Config{SyncLimit: config.DefaultSyncLimit, Accounts: []config.AccountConfig{*acc}}
	m, err := NewManager(cfg, store, credential.NewStatic(), logger)
	require.NoError(t, err)
	return m, store
}

func TestManager_SyncFolderAgainstIMAPServer(t *testing.T) {
	acc := startIMAPServer(t)
	m, store := newTestManager(t, acc)
	ctx := context.Background()

	first, err := m.SyncFolder(ctx, "local", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 1, first.NewCount)
	assert.Equal(t, 0, first.UpdatedCount)

	second, err := m.SyncFolder(ctx, "local", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewCount)
	assert.Equal(t, 0, second.UpdatedCount)

	// change the flag behind the cache's back
	s, err := m.Session("local")
	require.NoError(t, err)
	require.NoError(t, s.Connect())
	require.NoError(t, s.MarkUnread("INBOX", "6"))
	require.NoError(t, s.Disconnect())

	third, err := m.SyncFolder(ctx, "local", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 0, third.NewCount)
	require.Equal(t, 1, third.UpdatedCount)
	assert.False(t, third.Updated[0].Read)

	accountID, err := store.GetAccountID("local")
	require.NoError(t, err)
	email, err := store.FindByMessageID(accountID, "<0000000@localhost/>")
	require.NoError(t, err)
	assert.False(t, email.Read)
	assert.Equal(t, "Hi there :)", email.BodyText)
}

func TestManager_LiveOperationsMirrorCache(t *testing.T) {
	acc := startIMAPServer(t)
	m, store := newTestManager(t, acc)
	ctx := context.Background()

	_, err := m.SyncAccount(ctx, "local", "")
	require.NoError(t, err)

	folders, err := m.ListFolders("local")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX"}, folders)

	envs, err := m.ListEnvelopes("local", "INBOX", 5)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	require.NoError(t, m.SetRead("local", "INBOX", "6", false))
	accountID, err := store.GetAccountID("local")
	require.NoError(t, err)
	email, err := store.FindByMessageID(accountID, "<0000000@localhost/>")
	require.NoError(t, err)
	assert.False(t, email.Read)

	msg, err := m.FetchContent("local", "INBOX", "6")
	require.NoError(t, err)
	assert.False(t, msg.Read)

	require.NoError(t, m.Delete("local", "INBOX", "6"))
	has, err := store.HasEmails(accountID)
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, m.Delete("local", "INBOX", "x"), ErrInvalidUID)
}

func TestManager_SyncFolderConnectFailure(t *testing.T) {
	acc := startIMAPServer(t)
	acc.IMAPPassword = "wrong"
	m, _ := newTestManager(t, acc)

	res, err := m.SyncFolder(context.Background(), "local", "INBOX")
	assert.Nil(t, res)
	assert.True(t, IsConnectivity(err))
}

func TestManager_SendReplyUsesCachedOriginal(t *testing.T) {
	imapAcc := startIMAPServer(t)
	smtpAcc, srv := startSMTPServer(t)
	imapAcc.SMTPHost = smtpAcc.SMTPHost
	imapAcc.SMTPPort = smtpAcc.SMTPPort
	imapAcc.SMTPUsername = "username"
	imapAcc.SMTPPassword = "password"

	m, _ := newTestManager(t, imapAcc)
	ctx := context.Background()
	_, err := m.SyncFolder(ctx, "local", "INBOX")
	require.NoError(t, err)

	_, err = m.SendReply(ctx, "local", "<0000000@localhost/>", message.Compose{BodyText: "thanks"})
	require.NoError(t, err)

	got := srv.snapshot()
	assert.Equal(t, []string{"contact@example.org"}, got.rcpts)
	assert.Contains(t, got.data, "Subject: Re: A little message, just for you")
	assert.Contains(t, got.data, "In-Reply-To: <0000000@localhost/>")
}

func TestManager_SendForwardQuotesOriginalBelowBody(t *testing.T) {
	imapAcc := startIMAPServer(t)
	smtpAcc, srv := startSMTPServer(t)
	imapAcc.SMTPHost = smtpAcc.SMTPHost
	imapAcc.SMTPPort = smtpAcc.SMTPPort
	imapAcc.SMTPUsername = "username"
	imapAcc.SMTPPassword = "password"

	m, _ := newTestManager(t, imapAcc)
	ctx := context.Background()
	_, err := m.SyncFolder(ctx, "local", "INBOX")
	require.NoError(t, err)

	_, err = m.SendForward(ctx, "local", "<0000000@localhost/>", message.Compose{
		To:       []types.Address{{Email: "bob@example.com"}},
		BodyText: "fyi",
	})
	require.NoError(t, err)

	data := srv.snapshot().data
	assert.Contains(t, data, "Subject: A little message, just for you")
	fyi := strings.Index(data, "fyi")
	quoted := strings.Index(data, "---------- Forwarded message ----------")
	require.True(t, fyi >= 0 && quoted >= 0)
	assert.Less(t, fyi, quoted)
	assert.Contains(t, data, "Hi there :)")
}

func TestManager_TestConnection(t *testing.T) {
	imapAcc := startIMAPServer(t)
	smtpAcc, _ := startSMTPServer(t)
	imapAcc.SMTPHost = smtpAcc.SMTPHost
	imapAcc.SMTPPort = smtpAcc.SMTPPort
	imapAcc.SMTPUsername = "username"
	imapAcc.SMTPPassword = "password"

	m, _ := newTestManager(t, imapAcc)
	report, err := m.TestConnection(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "local", report.Account)
	assert.True(t, report.IMAP.OK)
	assert.True(t, report.SMTP.OK)
	assert.Empty(t, report.IMAP.Error)
}

func TestAccountManager(t *testing.T) {
	am, err := NewAccountManager(&config.Config{Accounts: []config.AccountConfig{{Name: "work"}, {Name: "home"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "home"}, am.ListAccounts())

	acc, err := am.GetAccount("")
	require.NoError(t, err)
	assert.Equal(t, "work", acc.Name)

	_, err = am.GetAccount("missing")
	assert.Error(t, err)

	_, err = NewAccountManager(&config.Config{Accounts: []config.AccountConfig{{Name: "a"}, {Name: "a"}}})
	assert.Error(t, err)
}

func TestAccountManager_LockFolderSerializes(t *testing.T) {
	am, err := NewAccountManager(&config.Config{Accounts: []config.AccountConfig{{Name: "work"}}})
	require.NoError(t, err)

	unlock := am.lockFolder("work", "INBOX")

	acquired := make(chan struct{})
	go func() {
		release := am.lockFolder("work", "INBOX")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	// other folders are independent
	other := am.lockFolder("work", "Sent")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestManager_ConcurrentSyncsOfOneFolder(t *testing.T) {
	acc := startIMAPServer(t)
	m, _ := newTestManager(t, acc)

	var wg sync.WaitGroup
	results := make([]*types.SyncResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.SyncFolder(context.Background(), "local", "INBOX")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	// exactly one run saw the message as new
	assert.Equal(t, 1, results[0].NewCount+results[1].NewCount)
}
