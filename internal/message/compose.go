package message

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/brandon/mailcore/pkg/types"
)

// Compose describes one outbound message
type Compose struct {
	From        types.Address
	To          []types.Address
	Cc          []types.Address
	Bcc         []types.Address
	ReplyTo     *types.Address
	Subject     string
	BodyText    string
	BodyHTML    string
	Attachments []string // local file paths
	InReplyTo   string
	References  []string
}

// Recipients returns every envelope recipient, To then Cc then Bcc, without duplicates
func (c *Compose) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]types.Address{c.To, c.Cc, c.Bcc} {
		for _, a := range list {
			key := strings.ToLower(strings.TrimSpace(a.Email))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(a.Email))
		}
	}
	return out
}

// Built is an encoded message ready for transmission
type Built struct {
	Data      []byte
	MessageID string
	// Skipped lists attachment paths that could not be read
	Skipped []string
}

// Build encodes c as multipart/mixed with a multipart/alternative body part
// holding whichever of the text and HTML bodies are set. Attachment files
// that cannot be read are left out and reported in Skipped.
func Build(c Compose) (*Built, error) {
	return build(c, time.Now())
}

func build(c Compose, now time.Time) (*Built, error) {
	var h mail.Header
	h.SetDate(now)
	h.Set("From", FormatAddress(c.From))
	if len(c.To) > 0 {
		h.Set("To", FormatAddressList(c.To))
	}
	if len(c.Cc) > 0 {
		h.Set("Cc", FormatAddressList(c.Cc))
	}
	if c.ReplyTo != nil && c.ReplyTo.Email != "" {
		h.Set("Reply-To", FormatAddress(*c.ReplyTo))
	}
	h.SetSubject(c.Subject)
	if c.InReplyTo != "" {
		h.Set("In-Reply-To", c.InReplyTo)
	}
	if len(c.References) > 0 {
		h.Set("References", strings.Join(c.References, " "))
	}

	domain := "localhost"
	if i := strings.LastIndexByte(c.From.Email, '@'); i >= 0 && i < len(c.From.Email)-1 {
		domain = c.From.Email[i+1:]
	}
	if err := h.GenerateMessageIDWithHostname(domain); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	msgID := h.Get("Message-Id")

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if c.BodyText != "" || c.BodyHTML != "" {
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("failed to create inline part: %w", err)
		}
		if c.BodyText != "" {
			if err := writeInline(iw, "text/plain", c.BodyText); err != nil {
				return nil, err
			}
		}
		if c.BodyHTML != "" {
			if err := writeInline(iw, "text/html", c.BodyHTML); err != nil {
				return nil, err
			}
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close inline part: %w", err)
		}
	}

	var skipped []string
	for _, path := range c.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			skipped = append(skipped, path)
			continue
		}
		if err := writeAttachment(mw, path, data); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return &Built{Data: buf.Bytes(), MessageID: msgID, Skipped: skipped}, nil
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

func writeAttachment(mw *mail.Writer, path string, data []byte) error {
	name := filepath.Base(path)
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", ctype)
	ah.SetFilename(name)
	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return w.Close()
}

// FormatAddress renders a as `Name <addr>`, or the bare address when it has
// no name. Names outside printable ASCII are RFC 2047 encoded and names with
// special characters are quoted.
func FormatAddress(a types.Address) string {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return a.Email
	}
	return encodeDisplayName(name) + " <" + a.Email + ">"
}

// ParseAddresses parses an RFC 5322 address list such as
// `Alice <a@x.org>, b@x.org`. A blank input yields no addresses.
func ParseAddresses(s string) ([]types.Address, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	list, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address list %q: %w", s, err)
	}
	out := make([]types.Address, 0, len(list))
	for _, a := range list {
		out = append(out, types.Address{Name: a.Name, Email: a.Address})
	}
	return out, nil
}

// FormatAddressList joins addresses for a To or Cc header
func FormatAddressList(list []types.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		if strings.TrimSpace(a.Email) == "" {
			continue
		}
		parts = append(parts, FormatAddress(a))
	}
	return strings.Join(parts, ", ")
}

func encodeDisplayName(name string) string {
	for _, r := range name {
		if r < 0x20 || r > 0x7e {
			return mime.QEncoding.Encode("utf-8", name)
		}
	}
	if strings.ContainsAny(name, `()<>[]:;@\,."`) {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
	}
	return name
}

// ReplySubject prefixes "Re: " unless subject already carries it
func ReplySubject(subject string) string {
	return prefixSubject("Re: ", subject)
}

// ForwardSubject prefixes "Fwd: " unless subject already carries it
func ForwardSubject(subject string) string {
	return prefixSubject("Fwd: ", subject)
}

func prefixSubject(prefix, subject string) string {
	trimmed := strings.TrimSpace(subject)
	tag := strings.TrimSpace(prefix)
	if len(trimmed) >= len(tag) && strings.EqualFold(trimmed[:len(tag)], tag) {
		return subject
	}
	return prefix + subject
}
