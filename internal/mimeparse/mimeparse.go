// Package mimeparse adapts github.com/jhillyerd/enmime for the parsed
// structure spec §4.5 requires, and implements the defensive raw-header
// parser and URL extractor alongside it. The enmime usage is grounded on
// other_examples/e9524158_Gjergj-tmpemail's ReadEnvelope/attachment/text
// extraction pattern; the header parser and URL extractor have no pack
// analog and are built directly from spec §4.5's byte-level rules.
package mimeparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Address is the structured form of one mailbox in an address header.
type Address struct {
	Address string
	Name    string
}

// AddressBlock carries both the raw header text and its structured form.
type AddressBlock struct {
	Text      string
	Addresses []Address
}

type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Checksum    string
	CID         string
	Disposition string
	Content     []byte
}

// Parsed is the opaque parsed structure of spec §4.5.
type Parsed struct {
	Subject      string
	MessageID    string
	Date         *time.Time
	From         AddressBlock
	To           AddressBlock
	Cc           AddressBlock
	Bcc          AddressBlock
	ReplyTo      AddressBlock
	Text         string
	HTML         string
	TextAsHTML   string
	References   []string
	InReplyTo    string
	Priority     string
	Attachments  []Attachment
}

// Parse consumes raw RFC 5322 bytes and yields a Parsed structure. Parser
// errors captured by enmime do not abort parsing — enmime returns a
// best-effort envelope alongside them, matching spec §4.5's "parser
// errors yield absent result; the pipeline continues using envelope
// data" by degrading gracefully field-by-field instead of failing whole.
func Parse(raw []byte) (*Parsed, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil || env == nil {
		return nil, err
	}

	p := &Parsed{
		Subject:    env.GetHeader("Subject"),
		MessageID:  strings.Trim(env.GetHeader("Message-Id"), "<>"),
		Text:       env.Text,
		HTML:       env.HTML,
		InReplyTo:  strings.Trim(env.GetHeader("In-Reply-To"), "<>"),
		Priority:   env.GetHeader("X-Priority"),
		From:       addressBlock(env, "From"),
		To:         addressBlock(env, "To"),
		Cc:         addressBlock(env, "Cc"),
		Bcc:        addressBlock(env, "Bcc"),
		ReplyTo:    addressBlock(env, "Reply-To"),
		References: splitReferences(env.GetHeader("References")),
	}

	if dateHdr := env.GetHeader("Date"); dateHdr != "" {
		if t, err := time.Parse(time.RFC1123Z, dateHdr); err == nil {
			p.Date = &t
		}
	}

	p.Attachments = append(p.Attachments, convertParts(env.Attachments, "attachment")...)
	p.Attachments = append(p.Attachments, convertParts(env.Inlines, "inline")...)

	return p, nil
}

func addressBlock(env *enmime.Envelope, header string) AddressBlock {
	raw := env.GetHeader(header)
	block := AddressBlock{Text: raw}
	list, err := env.AddressList(header)
	if err != nil {
		return block
	}
	for _, a := range list {
		block.Addresses = append(block.Addresses, Address{Address: a.Address, Name: a.Name})
	}
	return block
}

func splitReferences(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Trim(f, "<>"))
	}
	return out
}

func convertParts(parts []*enmime.Part, disposition string) []Attachment {
	out := make([]Attachment, 0, len(parts))
	for _, part := range parts {
		sum := sha256.Sum256(part.Content)
		out = append(out, Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
			Checksum:    hex.EncodeToString(sum[:]),
			CID:         part.ContentID,
			Disposition: disposition,
			Content:     part.Content,
		})
	}
	return out
}
