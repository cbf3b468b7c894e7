package message

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOpts() DecodeOptions {
	return DecodeOptions{
		UID:     "42",
		Account: "me@example.com",
		Folder:  "INBOX",
		Now:     func() time.Time { return fixedNow },
	}
}

func TestDecode_MultipartAlternativeWithAttachment(t *testing.T) {
	raw := crlf(`From: =?utf-8?q?Ren=C3=A9_Dupont?= <rene@example.com>
To: Alice <alice@example.com>, bob@example.com
Cc: "Carol, C." <carol@example.com>
Reply-To: replies@example.com
Subject: =?utf-8?b?SGVsbG8gV8O2cmxk?=
Date: Tue, 05 Mar 2024 09:30:00 +0100
Message-ID: <abc123@example.com>
References: <root@example.com> <parent@example.com>
In-Reply-To: <parent@example.com>
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

plain body
--inner
Content-Type: text/html; charset=utf-8

<p>html body</p>
--inner--
--outer
Content-Type: application/pdf; name="report.pdf"
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0=
--outer--
`)

	res := Decode(raw, testOpts())
	msg := res.Message

	assert.Equal(t, OutcomeDecoded, res.Outcome, "problems: %v", res.Problems)
	assert.False(t, msg.Degraded)
	assert.Equal(t, "Hello Wörld", msg.Subject)
	assert.Equal(t, "René Dupont", msg.From.Name)
	assert.Equal(t, "rene@example.com", msg.From.Email)
	require.Len(t, msg.To, 2)
	assert.Equal(t, "Alice", msg.To[0].Name)
	assert.Equal(t, "bob@example.com", msg.To[1].Email)
	require.Len(t, msg.Cc, 1)
	assert.Equal(t, "Carol, C.", msg.Cc[0].Name)
	require.Len(t, msg.ReplyTo, 1)
	assert.Equal(t, "replies@example.com", msg.ReplyTo[0].Email)
	assert.Equal(t, "<abc123@example.com>", msg.MessageID)
	assert.False(t, msg.Synthetic)
	assert.Equal(t, []string{"<root@example.com>", "<parent@example.com>"}, msg.References)
	assert.Equal(t, "<root@example.com>", msg.ThreadID)
	assert.True(t, msg.Date.Equal(time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)))

	assert.Equal(t, "plain body", strings.TrimSpace(msg.BodyText))
	assert.Equal(t, "<p>html body</p>", strings.TrimSpace(msg.BodyHTML))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "report.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.Equal(t, 5, msg.Attachments[0].Size)
	assert.NotContains(t, msg.BodyText, "JVBERi0")
}

func TestDecode_LastTextPartWins(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: two parts
Date: Tue, 05 Mar 2024 09:30:00 +0000
Message-ID: <two@example.com>
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain; charset=us-ascii

first
--b
Content-Type: text/plain; charset=us-ascii

second
--b--
`)

	res := Decode(raw, testOpts())
	assert.Equal(t, "second", strings.TrimSpace(res.Message.BodyText))
	assert.Empty(t, res.Message.BodyHTML)
	assert.Empty(t, res.Message.Attachments)
}

func TestDecode_SinglePart(t *testing.T) {
	tests := []struct {
		name     string
		ctype    string
		wantText string
		wantHTML string
	}{
		{name: "plain", ctype: "text/plain; charset=utf-8", wantText: "hello"},
		{name: "html", ctype: "text/html; charset=utf-8", wantHTML: "hello"},
		{name: "unknown type falls back to text", ctype: "application/x-custom", wantText: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := crlf("From: a@example.com\nSubject: s\nDate: Tue, 05 Mar 2024 09:30:00 +0000\nMessage-ID: <s@example.com>\nMIME-Version: 1.0\nContent-Type: " + tt.ctype + "\n\nhello\n")
			res := Decode(raw, testOpts())
			assert.Equal(t, tt.wantText, strings.TrimSpace(res.Message.BodyText))
			assert.Equal(t, tt.wantHTML, strings.TrimSpace(res.Message.BodyHTML))
		})
	}
}

func TestDecode_MalformedInputsNeverFail(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "binary garbage", raw: []byte{0x00, 0xff, 0xfe, 0x01}},
		{name: "truncated header", raw: []byte("Subject: Hello\r\nFrom: Bob <bob@example.com")},
		{name: "unknown charset", raw: crlf("Subject: =?x-klingon?q?Qapla?=\nFrom: =?x-klingon?q?Worf?= <worf@example.com>\n\nbody\n")},
		{name: "non utf8 bytes", raw: []byte("Subject: caf\xe9 \xff\r\nFrom: \xfe\xfe <x@example.com>\r\n\r\nbody \xff\r\n")},
		{name: "bad date", raw: crlf("Subject: s\nFrom: a@example.com\nDate: yesterday-ish\n\nbody\n")},
		{name: "broken multipart", raw: crlf("Subject: s\nFrom: a@example.com\nContent-Type: multipart/mixed; boundary=\"zz\"\n\n--zz\nContent-Type: text/plain\n\ntruncated")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			assert.NotPanics(t, func() {
				res = Decode(tt.raw, testOpts())
			})
			msg := res.Message
			assert.NotEmpty(t, msg.Subject)
			assert.NotEmpty(t, msg.From.Email)
			assert.NotEmpty(t, msg.MessageID)
			assert.False(t, msg.Date.IsZero())
			assert.True(t, utf8.ValidString(msg.Subject))
			assert.True(t, utf8.ValidString(msg.From.Name))
			assert.True(t, utf8.ValidString(msg.BodyText))
			assert.Equal(t, OutcomePlaceholder, res.Outcome)
			assert.True(t, msg.Degraded)
			assert.NotEmpty(t, res.Problems)
		})
	}
}

func TestDecode_Placeholders(t *testing.T) {
	res := Decode([]byte{0x00, 0xff}, testOpts())
	assert.Equal(t, PlaceholderSubject, res.Message.Subject)
	assert.Equal(t, PlaceholderSender, res.Message.From.Email)
	assert.Equal(t, fixedNow, res.Message.Date)
	assert.True(t, res.Message.Synthetic)
	assert.Equal(t, SyntheticMessageID("42", "me@example.com"), res.Message.MessageID)
}

func TestDecode_TruncatedHeaderKeepsParsedFields(t *testing.T) {
	res := Decode([]byte("Subject: Hello\r\nFrom: Bob <bob@example.com"), testOpts())
	assert.Equal(t, "Hello", res.Message.Subject)
	assert.Equal(t, "bob@example.com", res.Message.From.Email)
}

func TestDecode_SkipsMalformedHeaderLine(t *testing.T) {
	raw := crlf(`Received: from a
X-Broken header line without colon
  and its continuation
Subject: Quarterly report
From: Alice <alice@example.com>
Date: Mon, 04 Mar 2024 10:00:00 +0000
Message-ID: <real@example.com>

numbers attached
`)

	for name, res := range map[string]Result{
		"full":   Decode(raw, testOpts()),
		"header": DecodeHeader(raw, testOpts()),
	} {
		t.Run(name, func(t *testing.T) {
			msg := res.Message
			assert.Equal(t, "Quarterly report", msg.Subject)
			assert.Equal(t, "alice@example.com", msg.From.Email)
			assert.Equal(t, "<real@example.com>", msg.MessageID)
			assert.False(t, msg.Synthetic)
			assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), msg.Date.UTC())
			assert.Equal(t, OutcomePlaceholder, res.Outcome)
			assert.Contains(t, res.Problems, "skipped 2 malformed header line(s)")
		})
	}

	assert.Equal(t, "numbers attached", strings.TrimSpace(Decode(raw, testOpts()).Message.BodyText))
}

func TestCleanHeader(t *testing.T) {
	block, dropped := cleanHeader([]byte("  leading fold\r\nFrom alice Mon 10:00\r\nSubject: ok\r\n\r\nbody: kept\r\nno colon\r\n"))
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "Subject: ok\r\n\r\nbody: kept\r\nno colon\r\n", string(block))
}

func TestDecode_UnknownCharsetKeepsRawSubject(t *testing.T) {
	res := Decode(crlf("Subject: =?x-klingon?q?Qapla?=\nFrom: a@example.com\n\nbody\n"), testOpts())
	assert.Equal(t, "=?x-klingon?q?Qapla?=", res.Message.Subject)
	assert.Equal(t, OutcomePlaceholder, res.Outcome)
}

func TestDecodeHeader_HeaderBlockOnly(t *testing.T) {
	raw := crlf("From: Alice <alice@example.com>\nSubject: Lunch?\nDate: Mon, 04 Mar 2024 10:00:00 +0000\nMessage-ID: <lunch@example.com>\n\n")
	res := DecodeHeader(raw, testOpts())
	assert.Equal(t, OutcomeDecoded, res.Outcome, "problems: %v", res.Problems)
	assert.Equal(t, "Lunch?", res.Message.Subject)
	assert.Equal(t, "Alice", res.Message.From.Name)
	assert.Equal(t, "<lunch@example.com>", res.Message.MessageID)
	assert.Equal(t, "<lunch@example.com>", res.Message.ThreadID)
	assert.Equal(t, "42", res.Message.UID)
	assert.Equal(t, "INBOX", res.Message.Folder)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{in: "Tue, 05 Mar 2024 09:30:00 +0000", ok: true, want: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)},
		{in: "5 Mar 2024 09:30:00 +0000", ok: true, want: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)},
		{in: "2024-03-05T09:30:00Z", ok: true, want: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)},
		{in: "", ok: false},
		{in: "not a date", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(tt.want), "got %v", got)
			}
		})
	}
}

func TestSyntheticMessageID(t *testing.T) {
	a := SyntheticMessageID("7", "Me@Example.com")
	b := SyntheticMessageID("7", "me@example.com")
	c := SyntheticMessageID("8", "me@example.com")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "<"))
	assert.True(t, IsSynthetic(a))
	assert.False(t, IsSynthetic("<real@example.com>"))
}

func TestLooseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: `Bob "the builder" <bob@example.com>`, want: "bob@example.com", ok: true},
		{in: "<bob@example.com", want: "bob@example.com", ok: true},
		{in: "mailer-daemon", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, ok := looseAddress(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, a.Email)
		})
	}
}
