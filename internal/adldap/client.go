package adldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
)

const dialTimeout = 10 * time.Second

// Group is one directory group entry returned by SearchGroups.
type Group struct {
	DN string
	CN string
}

// dial opens a connection to cfg.ServerURL, honoring an "ldaps://" scheme
// for implicit TLS and "ldap://" (or no scheme) for plaintext.
func dial(ctx context.Context, serverURL string) (net.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse AD server url: %w", err)
	}
	host := u.Host
	if host == "" {
		host = serverURL
	}

	d := net.Dialer{Timeout: dialTimeout}
	if u.Scheme == "ldaps" {
		if !strings.Contains(host, ":") {
			host += ":636"
		}
		return tls.DialWithDialer(&d, "tcp", host, &tls.Config{MinVersion: tls.VersionTLS12})
	}
	if !strings.Contains(host, ":") {
		host += ":389"
	}
	return d.DialContext(ctx, "tcp", host)
}

func readMessage(conn net.Conn) (int, element, error) {
	header := make([]byte, 6)
	if _, err := conn.Read(header[:2]); err != nil {
		return 0, element{}, fmt.Errorf("read ldap response header: %w", err)
	}
	if header[0] != tagSequence {
		return 0, element{}, fmt.Errorf("unexpected top-level tag %#x", header[0])
	}

	length := int(header[1])
	consumed := 2
	if header[1]&0x80 != 0 {
		n := int(header[1] & 0x7F)
		more := make([]byte, n)
		if _, err := conn.Read(more); err != nil {
			return 0, element{}, fmt.Errorf("read ldap length bytes: %w", err)
		}
		length = 0
		for _, b := range more {
			length = length<<8 | int(b)
		}
		consumed += n
	}

	body := make([]byte, length)
	if _, err := readFull(conn, body); err != nil {
		return 0, element{}, fmt.Errorf("read ldap message body: %w", err)
	}

	full := append(header[:consumed], body...)
	return decodeMessage(full)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// bind performs a simple bind, returning the connection on success.
func bind(ctx context.Context, serverURL, bindDN, password string) (net.Conn, error) {
	conn, err := dial(ctx, serverURL)
	if err != nil {
		return nil, err
	}

	req := encodeSequence(tagSequence,
		encodeInt(tagInteger, 1),
		encodeSequence(appBindRequest,
			encodeInt(tagInteger, 3),
			encodeString(tagOctetString, bindDN),
			encodeTLV(ctxSimpleCredentials, []byte(password)),
		),
	)
	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send bind request: %w", err)
	}

	_, op, err := readMessage(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read bind response: %w", err)
	}
	if op.Tag != appBindResponse {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected response to bind: tag %#x", op.Tag)
	}
	if code := resultCode(op); code != 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("bind rejected, ldap result code %d", code)
	}
	return conn, nil
}

func resultCode(op element) int {
	if len(op.Children) == 0 || op.Children[0].Tag != tagEnumerated {
		return -1
	}
	code := 0
	for _, b := range op.Children[0].Value {
		code = code<<8 | int(b)
	}
	return code
}

// equalityFilter encodes "(attr=value)" and "(attr=*)" filters — the two
// shapes AD group lookups actually need. Anything else is rejected rather
// than silently mis-encoded.
func equalityFilter(filter string) ([]byte, error) {
	f := strings.TrimSpace(filter)
	f = strings.TrimPrefix(f, "(")
	f = strings.TrimSuffix(f, ")")
	parts := strings.SplitN(f, "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unsupported filter %q: expected (attr=value)", filter)
	}
	attr, value := parts[0], parts[1]
	if attr == "" || strings.ContainsAny(attr, "()&|!<>~:*") || strings.ContainsAny(value, "()") {
		return nil, fmt.Errorf("unsupported filter %q: expected (attr=value)", filter)
	}
	if value == "*" {
		return encodeTLV(0x87, []byte(attr)), nil
	}
	return encodeSequence(0xA3, encodeString(tagOctetString, attr), encodeString(tagOctetString, value)), nil
}

// search runs a single search operation and returns the decoded entries.
func search(conn net.Conn, baseDN, filter string, scope int, attrs []string) ([]element, error) {
	filterBytes, err := equalityFilter(filter)
	if err != nil {
		return nil, err
	}

	var attrSeq []byte
	for _, a := range attrs {
		attrSeq = append(attrSeq, encodeString(tagOctetString, a)...)
	}

	req := encodeSequence(tagSequence,
		encodeInt(tagInteger, 2),
		encodeSequence(appSearchRequest,
			encodeString(tagOctetString, baseDN),
			encodeInt(tagEnumerated, scope),
			encodeInt(tagEnumerated, 0), // derefAliases: never
			encodeInt(tagInteger, 1000), // size limit
			encodeInt(tagInteger, 30),   // time limit (seconds)
			[]byte{0x01, 0x01, 0x00},    // typesOnly: false
			filterBytes,
			encodeTLV(tagSequence, attrSeq),
		),
	)
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("send search request: %w", err)
	}

	var entries []element
	for {
		_, op, err := readMessage(conn)
		if err != nil {
			return nil, fmt.Errorf("read search response: %w", err)
		}
		switch op.Tag {
		case appSearchResultEntry:
			entries = append(entries, op)
		case appSearchResultDone:
			if code := resultCode(op); code != 0 {
				return nil, fmt.Errorf("search failed, ldap result code %d", code)
			}
			return entries, nil
		default:
			return nil, fmt.Errorf("unexpected message during search: tag %#x", op.Tag)
		}
	}
}

// TestBind opens a connection and performs a simple bind, reporting
// whether the configured service account credentials are valid.
func TestBind(ctx context.Context, cfg configstore.ADConfig, password string) error {
	conn, err := bind(ctx, cfg.ServerURL, cfg.BindDN, password)
	if err != nil {
		return err
	}
	return conn.Close()
}

// SearchGroups binds with the configured service account and returns every
// group matching cfg.GroupFilter under cfg.BaseDN.
func SearchGroups(ctx context.Context, cfg configstore.ADConfig, password string) ([]Group, error) {
	filter := cfg.GroupFilter
	if filter == "" {
		filter = "(objectClass=group)"
	}

	conn, err := bind(ctx, cfg.ServerURL, cfg.BindDN, password)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	entries, err := search(conn, cfg.BaseDN, filter, 2, []string{"cn", "distinguishedName"})
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(entries))
	for _, e := range entries {
		groups = append(groups, groupFromEntry(e))
	}
	return groups, nil
}

// SearchGroupMembers returns the `member` DN values of a single group.
func SearchGroupMembers(ctx context.Context, cfg configstore.ADConfig, groupDN, password string) ([]string, error) {
	conn, err := bind(ctx, cfg.ServerURL, cfg.BindDN, password)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	entries, err := search(conn, groupDN, "(objectClass=*)", 0, []string{"member"})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return attributeValues(entries[0], "member"), nil
}

// groupFromEntry pulls cn/dn out of a searchResultEntry: SEQUENCE {
// objectName OCTET STRING, attributes SEQUENCE OF PartialAttribute }.
func groupFromEntry(e element) Group {
	if len(e.Children) == 0 {
		return Group{}
	}
	g := Group{DN: string(e.Children[0].Value)}
	g.CN = firstAttributeValue(e, "cn")
	if g.CN == "" {
		g.CN = g.DN
	}
	return g
}

func firstAttributeValue(e element, attr string) string {
	vals := attributeValues(e, attr)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// attributeValues scans a searchResultEntry's PartialAttributeList for
// attr, case-insensitively, returning every value.
func attributeValues(e element, attr string) []string {
	if len(e.Children) < 2 {
		return nil
	}
	var out []string
	for _, partial := range e.Children[1].Children {
		if len(partial.Children) < 2 {
			continue
		}
		if !strings.EqualFold(string(partial.Children[0].Value), attr) {
			continue
		}
		for _, v := range partial.Children[1].Children {
			out = append(out, string(v.Value))
		}
	}
	return out
}
