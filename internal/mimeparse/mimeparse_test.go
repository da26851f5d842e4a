package mimeparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMessage = "From: Sender <s@example.org>\r\n" +
	"To: User <user@example.com>\r\n" +
	"Subject: Hi\r\n" +
	"Date: Mon, 2 Jan 2006 15:04:05 -0700\r\n" +
	"\r\n" +
	"body text"

func TestParseExtractsSubjectAndAddresses(t *testing.T) {
	p, err := Parse([]byte(sampleMessage))
	require.NoError(t, err)
	require.Equal(t, "Hi", p.Subject)
	require.Len(t, p.To.Addresses, 1)
	require.Equal(t, "user@example.com", p.To.Addresses[0].Address)
}

func TestParseHeadersFoldedContinuation(t *testing.T) {
	raw := "Subject: Hello\r\n World\r\nFrom: a@b.com\r\n\r\nbody"
	headers, err := ParseHeaders([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, "Hello World", headers["subject"])
	require.Equal(t, "a@b.com", headers["from"])
}

func TestParseHeadersDuplicatesOverwrite(t *testing.T) {
	raw := "X-Test: first\r\nX-Test: second\r\n\r\nbody"
	headers, err := ParseHeaders([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, "second", headers["x-test"])
}

func TestParseHeadersLowercasesNames(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\nbody"
	headers, err := ParseHeaders([]byte(raw))
	require.NoError(t, err)
	_, ok := headers["content-type"]
	require.True(t, ok)
}

func TestExtractURLsDedupeAndOrder(t *testing.T) {
	html := `<a href="https://example.com/a">link</a>`
	text := "visit https://example.com/a or https://example.com/b."
	urls := ExtractURLs(html, text)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
}

func TestExtractURLsTrimsTrailingPunctuation(t *testing.T) {
	urls := ExtractURLs("", "see https://example.com/page!")
	require.Equal(t, []string{"https://example.com/page"}, urls)
}

func TestExtractURLsRejectsTooLong(t *testing.T) {
	long := "https://example.com/" + string(make([]byte, 2100))
	urls := ExtractURLs("", long)
	require.Empty(t, urls)
}

func TestExtractURLsMailto(t *testing.T) {
	urls := ExtractURLs("", "contact mailto:person@example.com now")
	require.Equal(t, []string{"mailto:person@example.com"}, urls)
}
