// Package message turns raw RFC 5322 messages into structured records and
// builds outbound MIME messages. It performs no network I/O.
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailcore/pkg/types"
)

const (
	PlaceholderSubject = "(No Subject)"
	PlaceholderSender  = "unknown@unknown.com"
)

// Outcome classifies how cleanly a message decoded
type Outcome int

const (
	// OutcomeDecoded means every field came from the message itself
	OutcomeDecoded Outcome = iota
	// OutcomePlaceholder means at least one field was substituted or repaired
	OutcomePlaceholder
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDecoded:
		return "decoded"
	case OutcomePlaceholder:
		return "placeholder"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DecodeOptions carries the context a raw message does not contain
type DecodeOptions struct {
	UID     string
	Account string // account email address, part of synthesized Message-IDs
	Folder  string
	Now     func() time.Time
}

func (o DecodeOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Result is a decoded message plus a record of what had to be repaired
type Result struct {
	Message  types.Message
	Outcome  Outcome
	Problems []string
}

func (r *Result) degrade(format string, args ...interface{}) {
	r.Outcome = OutcomePlaceholder
	r.Message.Degraded = true
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Decode parses a complete raw message. It never fails: anything that
// cannot be read is replaced with placeholder content and noted in Problems.
func Decode(raw []byte, opts DecodeOptions) Result {
	res := DecodeHeader(raw, opts)

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		res.degrade("mime structure: %v", err)
		res.Message.BodyText = validUTF8(string(bodyAfterHeader(raw)))
		return res
	}

	walkBody(env, &res)
	fillFromEnvelope(env, &res)
	return res
}

// fillFromEnvelope recovers identity fields the header pass had to
// substitute but the MIME parser still found
func fillFromEnvelope(env *enmime.Envelope, res *Result) {
	msg := &res.Message
	if msg.Synthetic {
		if id := strings.TrimSpace(validUTF8(env.GetHeader("Message-Id"))); id != "" {
			if msg.ThreadID == msg.MessageID {
				msg.ThreadID = id
			}
			msg.MessageID = id
			msg.Synthetic = false
		}
	}
	if msg.Subject == PlaceholderSubject {
		if subject := strings.TrimSpace(validUTF8(env.GetHeader("Subject"))); subject != "" {
			msg.Subject = subject
		}
	}
	if msg.From.Email == PlaceholderSender {
		if list, err := env.AddressList("From"); err == nil {
			for _, a := range list {
				if a.Address != "" {
					msg.From = types.Address{Name: strings.TrimSpace(validUTF8(a.Name)), Email: validUTF8(a.Address)}
					break
				}
			}
		}
	}
}

// DecodeHeader parses only the header block of raw, which may or may not be
// followed by a body. A truncated or malformed block keeps whatever parsed.
func DecodeHeader(raw []byte, opts DecodeOptions) Result {
	res := Result{Outcome: OutcomeDecoded}
	msg := &res.Message
	msg.UID = opts.UID
	msg.Folder = opts.Folder

	block, dropped := cleanHeader(raw)
	if dropped > 0 {
		res.degrade("skipped %d malformed header line(s)", dropped)
	}
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(block)))
	if err != nil && err != io.EOF {
		res.degrade("header block: %v", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	// Subject
	subject, err := h.Subject()
	if err != nil {
		res.degrade("subject: %v", err)
	}
	subject = strings.TrimSpace(validUTF8(subject))
	if subject == "" {
		subject = PlaceholderSubject
		res.degrade("subject missing")
	}
	msg.Subject = subject

	// Sender
	from, ok := firstAddress(&h, "From")
	if !ok {
		from, ok = firstAddress(&h, "Sender")
	}
	if !ok {
		res.degrade("sender missing or unparseable")
		from = types.Address{Email: PlaceholderSender}
	}
	msg.From = from

	msg.ReplyTo = addressList(&h, "Reply-To", &res)
	msg.To = addressList(&h, "To", &res)
	msg.Cc = addressList(&h, "Cc", &res)
	msg.Bcc = addressList(&h, "Bcc", &res)

	// Date
	date, ok := parseDate(h.Get("Date"))
	if !ok {
		res.degrade("date %q unparseable", h.Get("Date"))
		date = opts.now()
	}
	msg.Date = date
	msg.ReceivedAt = date

	// Identity
	msg.MessageID = strings.TrimSpace(validUTF8(h.Get("Message-Id")))
	if msg.MessageID == "" {
		msg.MessageID = SyntheticMessageID(opts.UID, opts.Account)
		msg.Synthetic = true
	}
	msg.References = msgIDList(&h, "References")
	inReplyTo := msgIDList(&h, "In-Reply-To")
	switch {
	case len(msg.References) > 0:
		msg.ThreadID = msg.References[0]
	case len(inReplyTo) > 0:
		msg.ThreadID = inReplyTo[0]
	default:
		msg.ThreadID = msg.MessageID
	}

	return res
}

// cleanHeader copies the header block of raw, dropping lines that are
// neither a well-formed field nor the continuation of a kept one. The blank
// line and any body after it are copied unchanged.
func cleanHeader(raw []byte) ([]byte, int) {
	var out bytes.Buffer
	out.Grow(len(raw))
	dropped := 0
	keep := false
	rest := raw
	for len(rest) > 0 {
		line := rest
		rest = nil
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line, rest = line[:i+1], line[i+1:]
		}
		content := bytes.TrimRight(line, "\r\n")
		switch {
		case len(content) == 0:
			out.Write(line)
			out.Write(rest)
			return out.Bytes(), dropped
		case content[0] == ' ' || content[0] == '\t':
			// continuation
		default:
			keep = validFieldLine(content)
		}
		if keep {
			out.Write(line)
		} else {
			dropped++
		}
	}
	return out.Bytes(), dropped
}

func validFieldLine(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return false
	}
	for _, c := range bytes.Trim(line[:i], " \t") {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}

// walkBody fills bodies and attachment metadata from the MIME tree
func walkBody(env *enmime.Envelope, res *Result) {
	root := env.Root
	if root == nil {
		res.Message.BodyText = validUTF8(env.Text)
		res.Message.BodyHTML = validUTF8(env.HTML)
		return
	}

	// Single part
	if root.FirstChild == nil {
		if isAttachment(root) {
			res.Message.Attachments = append(res.Message.Attachments, attachmentOf(root))
			return
		}
		content := string(root.Content)
		if mediaType(root.ContentType) == "text/html" {
			if content == "" {
				content = env.HTML
			}
			res.Message.BodyHTML = validUTF8(content)
			return
		}
		if content == "" {
			content = env.Text
		}
		res.Message.BodyText = validUTF8(content)
		return
	}

	var walk func(p *enmime.Part)
	walk = func(p *enmime.Part) {
		for ; p != nil; p = p.NextSibling {
			if p.FirstChild != nil {
				walk(p.FirstChild)
				continue
			}
			switch {
			case isAttachment(p):
				res.Message.Attachments = append(res.Message.Attachments, attachmentOf(p))
			case mediaType(p.ContentType) == "text/plain":
				res.Message.BodyText = validUTF8(string(p.Content))
			case mediaType(p.ContentType) == "text/html":
				res.Message.BodyHTML = validUTF8(string(p.Content))
			}
		}
	}
	walk(root.FirstChild)
}

func isAttachment(p *enmime.Part) bool {
	return p.FileName != "" || strings.EqualFold(p.Disposition, "attachment")
}

func attachmentOf(p *enmime.Part) types.Attachment {
	ctype := mediaType(p.ContentType)
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return types.Attachment{
		Filename:    validUTF8(p.FileName),
		ContentType: ctype,
		Size:        len(p.Content),
	}
}

func mediaType(ctype string) string {
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	return strings.ToLower(strings.TrimSpace(ctype))
}

// firstAddress returns the first usable address of a header field,
// falling back to a lenient scan when the list does not parse
func firstAddress(h *mail.Header, key string) (types.Address, bool) {
	raw := h.Get(key)
	if strings.TrimSpace(raw) == "" {
		return types.Address{}, false
	}
	list, err := h.AddressList(key)
	if err == nil {
		for _, a := range list {
			if a.Address != "" {
				return toAddress(a), true
			}
		}
	}
	return looseAddress(raw)
}

func addressList(h *mail.Header, key string, res *Result) []types.Address {
	raw := h.Get(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		res.degrade("%s: %v", strings.ToLower(key), err)
		var out []types.Address
		for _, part := range strings.Split(raw, ",") {
			if a, ok := looseAddress(part); ok {
				out = append(out, a)
			}
		}
		return out
	}
	out := make([]types.Address, 0, len(list))
	for _, a := range list {
		out = append(out, toAddress(a))
	}
	return out
}

func toAddress(a *mail.Address) types.Address {
	return types.Address{
		Name:  strings.TrimSpace(validUTF8(a.Name)),
		Email: validUTF8(a.Address),
	}
}

// looseAddress extracts "Name <addr>" or a bare addr from text that the
// RFC 5322 parser rejected
func looseAddress(raw string) (types.Address, bool) {
	raw = strings.TrimSpace(decodeWords(raw))
	if i := strings.LastIndex(raw, "<"); i >= 0 {
		if j := strings.Index(raw[i:], ">"); j > 0 {
			email := strings.TrimSpace(raw[i+1 : i+j])
			if strings.Contains(email, "@") {
				name := strings.Trim(strings.TrimSpace(raw[:i]), `"' `)
				return types.Address{Name: name, Email: email}, true
			}
		}
	}
	for _, f := range strings.Fields(raw) {
		f = strings.Trim(f, `<>,;"'()`)
		if strings.Contains(f, "@") {
			return types.Address{Email: f}, true
		}
	}
	return types.Address{}, false
}

func msgIDList(h *mail.Header, key string) []string {
	raw := h.Get(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	ids, err := h.MsgIDList(key)
	if err != nil || len(ids) == 0 {
		var out []string
		for _, f := range strings.Fields(raw) {
			if f = strings.Trim(f, ","); f != "" {
				out = append(out, validUTF8(f))
			}
		}
		return out
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "<" + validUTF8(id) + ">"
	}
	return out
}

var lenientDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := netmail.ParseDate(v); err == nil {
		return t, true
	}
	for _, layout := range lenientDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeWords decodes RFC 2047 encoded words, returning s unchanged on failure
func decodeWords(s string) string {
	dec := mime.WordDecoder{CharsetReader: message.CharsetReader}
	out, err := dec.DecodeHeader(s)
	if err != nil {
		return validUTF8(s)
	}
	return validUTF8(out)
}

func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// bodyAfterHeader returns everything after the first blank line of raw,
// or nil when raw holds only a header block
func bodyAfterHeader(raw []byte) []byte {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i >= 0 {
			return raw[i+len(sep):]
		}
	}
	return nil
}
