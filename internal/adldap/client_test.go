package adldap

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
)

// fakeDirectory is a minimal LDAP server: it accepts one bind (checking the
// bound password), then answers exactly one search with canned group
// entries. Good enough to exercise the BER encode/decode round trip without
// a real directory.
func fakeDirectory(t *testing.T, expectPassword string, groupEntries [][2]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Bind request.
		_, op, err := readMessage(conn)
		if err != nil || op.Tag != appBindRequest {
			return
		}
		creds := string(op.Children[2].Value)
		code := 0
		if creds != expectPassword {
			code = 49 // invalidCredentials
		}
		resp := encodeSequence(tagSequence,
			encodeInt(tagInteger, 1),
			encodeSequence(appBindResponse,
				encodeInt(tagEnumerated, code),
				encodeString(tagOctetString, ""),
				encodeString(tagOctetString, ""),
			),
		)
		_, _ = conn.Write(resp)
		if code != 0 {
			return
		}

		// Search request.
		_, op, err = readMessage(conn)
		if err != nil || op.Tag != appSearchRequest {
			return
		}
		for _, g := range groupEntries {
			dn, cn := g[0], g[1]
			entry := encodeSequence(tagSequence,
				encodeInt(tagInteger, 2),
				encodeSequence(appSearchResultEntry,
					encodeString(tagOctetString, dn),
					encodeTLV(tagSequence,
						encodeSequence(tagSequence,
							encodeString(tagOctetString, "cn"),
							encodeTLV(0x31, encodeString(tagOctetString, cn)),
						),
					),
				),
			)
			_, _ = conn.Write(entry)
		}
		done := encodeSequence(tagSequence,
			encodeInt(tagInteger, 2),
			encodeSequence(appSearchResultDone,
				encodeInt(tagEnumerated, 0),
				encodeString(tagOctetString, ""),
				encodeString(tagOctetString, ""),
			),
		)
		_, _ = conn.Write(done)
	}()

	return "ldap://" + ln.Addr().String()
}

func TestTestBind_Success(t *testing.T) {
	url := fakeDirectory(t, "s3cret", nil)
	cfg := configstore.ADConfig{ServerURL: url, BindDN: "cn=svc,dc=example,dc=com"}
	require.NoError(t, TestBind(context.Background(), cfg, "s3cret"))
}

func TestTestBind_WrongPassword(t *testing.T) {
	url := fakeDirectory(t, "s3cret", nil)
	cfg := configstore.ADConfig{ServerURL: url, BindDN: "cn=svc,dc=example,dc=com"}
	err := TestBind(context.Background(), cfg, "nope")
	require.Error(t, err)
}

func TestSearchGroups_ParsesEntries(t *testing.T) {
	url := fakeDirectory(t, "s3cret", [][2]string{
		{"cn=eng,dc=example,dc=com", "eng"},
		{"cn=ops,dc=example,dc=com", "ops"},
	})
	cfg := configstore.ADConfig{
		ServerURL:   url,
		BindDN:      "cn=svc,dc=example,dc=com",
		BaseDN:      "dc=example,dc=com",
		GroupFilter: "(objectClass=group)",
	}
	groups, err := SearchGroups(context.Background(), cfg, "s3cret")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "eng", groups[0].CN)
	require.Equal(t, "ops", groups[1].CN)
}

func TestEqualityFilter_RejectsUnsupportedShape(t *testing.T) {
	_, err := equalityFilter("(&(objectClass=group)(cn=eng))")
	require.Error(t, err)
}
