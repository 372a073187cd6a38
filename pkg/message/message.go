package message

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/mail"
	"net/url"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/gomail.v2"
)

// Requester is the sender metadata supplied with every request.
type Requester struct {
	BizName     string
	SenderEmail string
}

// Normalize trims surrounding whitespace from all fields.
func (r Requester) Normalize() Requester {
	return Requester{
		BizName:     strings.TrimSpace(r.BizName),
		SenderEmail: strings.TrimSpace(r.SenderEmail),
	}
}

// Validate checks that the business name is present and the sender email parses.
func (r Requester) Validate() error {
	r = r.Normalize()
	if r.BizName == "" {
		return &ValidationError{Field: "biz_name", Reason: "must not be empty"}
	}
	if r.SenderEmail == "" {
		return &ValidationError{Field: "sender_email", Reason: "must not be empty"}
	}
	if _, err := mail.ParseAddress(r.SenderEmail); err != nil {
		return &ValidationError{Field: "sender_email", Reason: err.Error()}
	}
	return nil
}

// ValidateFileURL checks that rawURL is an absolute http(s) URL.
func ValidateFileURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return &ValidationError{Field: "file_url", Reason: err.Error()}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "file_url", Reason: "must be an absolute http(s) URL"}
	}
	return nil
}

// OutgoingMessage is one fully built email. It is not modified after Compose returns.
type OutgoingMessage struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string

	Attachment []byte
	Filename   string
	Origin     Origin
}

// Gomail converts the message into its MIME representation.
func (m *OutgoingMessage) Gomail() *gomail.Message {
	gm := gomail.NewMessage()
	if m.FromName != "" {
		gm.SetAddressHeader("From", m.From, m.FromName)
	} else {
		gm.SetHeader("From", m.From)
	}
	gm.SetHeader("To", m.To)
	gm.SetHeader("Subject", m.Subject)
	gm.SetBody("text/plain", m.Body)

	data := m.Attachment
	gm.Attach(m.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}))
	return gm
}

var (
	//go:embed templates/quote.txt
	quoteTemplateRaw string

	quoteTemplate = template.Must(template.New("quote").Funcs(sprig.TxtFuncMap()).Parse(quoteTemplateRaw))
)

// Subject renders the subject line for a request.
func Subject(r Requester) string {
	r = r.Normalize()
	return fmt.Sprintf("견적서 발송 - %s | %s", r.BizName, r.SenderEmail)
}

// Filename renders the attachment filename for a request.
func Filename(r Requester) string {
	name := strings.Map(func(c rune) rune {
		switch {
		case c == '/' || c == '\\' || c == '"':
			return '_'
		case c < 0x20 || c == 0x7f:
			return -1
		}
		return c
	}, r.Normalize().BizName)
	return fmt.Sprintf("견적서_%s.pdf", name)
}

// Body renders the plain-text body for a request.
func Body(r Requester) (string, error) {
	var buf bytes.Buffer
	if err := quoteTemplate.Execute(&buf, r.Normalize()); err != nil {
		return "", fmt.Errorf("render quote body: %w", err)
	}
	return buf.String(), nil
}

// Composer builds outgoing messages with fixed sender and destination addresses.
type Composer struct {
	From     string
	FromName string
	To       string
}

// Compose loads the attachment from src and builds the message for r.
// Subject and body depend only on r, never on the source.
func (c *Composer) Compose(ctx context.Context, src Source, r Requester) (*OutgoingMessage, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	att, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	body, err := Body(r)
	if err != nil {
		return nil, err
	}
	return &OutgoingMessage{
		From:       c.From,
		FromName:   c.FromName,
		To:         c.To,
		Subject:    Subject(r),
		Body:       body,
		Attachment: att.Data,
		Filename:   Filename(r),
		Origin:     att.Origin,
	}, nil
}
