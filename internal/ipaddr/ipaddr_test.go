package ipaddr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

func TestNormalizeIP(t *testing.T) {
	require.Equal(t, "", NormalizeIP(""))
	require.Equal(t, "fe80::1", NormalizeIP("fe80::1%eth0"))
	require.Equal(t, "192.0.2.1", NormalizeIP("::ffff:192.0.2.1"))
	require.Equal(t, "192.0.2.1", NormalizeIP(" 192.0.2.1 "))
}

func TestNormalizeIPIdempotent(t *testing.T) {
	inputs := []string{"", "fe80::1%eth0", "::ffff:10.0.0.1", "2001:db8::1"}
	for _, in := range inputs {
		once := NormalizeIP(in)
		twice := NormalizeIP(once)
		require.Equal(t, once, twice)
	}
}

func TestValidateAddressNullSender(t *testing.T) {
	require.NoError(t, ValidateAddress(""))
	require.NoError(t, ValidateAddress("<>"))
}

func TestValidateAddressLocalPartBoundary(t *testing.T) {
	local64 := strings.Repeat("a", 64)
	require.NoError(t, ValidateAddress(local64+"@example.com"))

	local65 := strings.Repeat("a", 65)
	err := ValidateAddress(local65 + "@example.com")
	require.Error(t, err)
	var ai *gwerrors.AddressInvalid
	require.ErrorAs(t, err, &ai)
	require.Equal(t, gwerrors.AddressTooLong, ai.Kind)
}

func TestValidateAddressDomainBoundary(t *testing.T) {
	domain255 := strings.Repeat("a", 251) + ".com"
	require.Len(t, domain255, 255)
	require.NoError(t, ValidateAddress("user@"+domain255))

	domain256 := strings.Repeat("a", 252) + ".com"
	require.Len(t, domain256, 256)
	require.Error(t, ValidateAddress("user@"+domain256))
}

func TestValidateAddressControlChars(t *testing.T) {
	err := ValidateAddress("user\x01@example.com")
	require.Error(t, err)
	var ai *gwerrors.AddressInvalid
	require.ErrorAs(t, err, &ai)
	require.Equal(t, gwerrors.AddressControlChars, ai.Kind)
}

func TestValidateAddressFormat(t *testing.T) {
	cases := []string{"noat.example.com", "@example.com", "user@", "a@b@c"}
	for _, c := range cases {
		err := ValidateAddress(c)
		require.Error(t, err, c)
		var ai *gwerrors.AddressInvalid
		require.ErrorAs(t, err, &ai)
		require.Equal(t, gwerrors.AddressInvalidFormat, ai.Kind)
	}
}

func TestBaseEmailStripsSubaddressOnly(t *testing.T) {
	require.Equal(t, "user@Ex.com", BaseEmail("user+x@Ex.com"))
	require.Equal(t, "user@example.com", BaseEmail("user@example.com"))
}

func TestInboxKeyLowercasesAfterStrip(t *testing.T) {
	require.Equal(t, "user@ex.com", InboxKey("User+Tag@Ex.com"))
}

func TestDomainExtraction(t *testing.T) {
	require.Equal(t, "example.com", Domain("user@Example.COM"))
}

func TestInboxHashIsStableAndOpaque(t *testing.T) {
	h1 := InboxHash(InboxKey("User@Example.com"))
	h2 := InboxHash(InboxKey("user@example.com"))
	require.Equal(t, h1, h2)
	require.Len(t, h1, 32)
	require.NotContains(t, h1, "example")
}

func TestInboxHashDiffersPerKey(t *testing.T) {
	require.NotEqual(t, InboxHash("a@example.com"), InboxHash("b@example.com"))
}
