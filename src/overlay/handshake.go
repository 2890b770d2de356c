package overlay

import (
	"crypto/ecdsa"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rtxnet/rtxd/src/common"
	"github.com/rtxnet/rtxd/src/crypto/keys"
	"github.com/rtxnet/rtxd/src/wire"
)

// ProtocolVersion is the application protocol spoken on established sessions.
// It doubles as the HTTP Upgrade token.
const ProtocolVersion = "RTXP/1.2"

// sharedValueLabel is the exporter label used to derive the shared value from
// the TLS session. Both ends compute the same 32 bytes, so a signature over
// it binds a node identity to this specific session without PKI.
const sharedValueLabel = "RTXP shared value"

// Hello header names used on the HTTP-upgrade path.
const (
	headerPublicKey        = "Public-Key"
	headerSessionSignature = "Session-Signature"
	headerProtocolVersion  = "Protocol-Version"
	headerListenPort       = "Listen-Port"
	headerMoniker          = "Moniker"
)

// MakeSharedValue derives the session binding value from an established TLS
// connection. The ok result is false when the TLS session does not support
// keying-material export.
func MakeSharedValue(conn *tls.Conn) ([]byte, bool) {
	state := conn.ConnectionState()
	v, err := state.ExportKeyingMaterial(sharedValueLabel, nil, 32)
	if err != nil {
		return nil, false
	}
	return v, true
}

// BuildHello constructs and signs a Hello for this session.
func BuildHello(key *ecdsa.PrivateKey, sharedValue []byte, listenPort int, moniker string) (wire.Hello, error) {
	r, s, err := keys.Sign(key, sharedValue)
	if err != nil {
		return wire.Hello{}, err
	}

	return wire.Hello{
		ProtoVersion:    ProtocolVersion,
		ProtoVersionMin: ProtocolVersion,
		PublicKey:       keys.PublicKeyHex(&key.PublicKey),
		Signature:       keys.EncodeSignature(r, s),
		ListenPort:      listenPort,
		Moniker:         moniker,
	}, nil
}

// VerifyHello checks a received Hello against the shared value of this
// session. On success it returns the peer's raw public key. The Hello
// contents are deliberately not logged on failure.
func VerifyHello(hello wire.Hello, sharedValue []byte) ([]byte, bool) {
	if hello.ProtoVersion != ProtocolVersion {
		return nil, false
	}

	pubBytes, err := common.DecodeFromString(hello.PublicKey)
	if err != nil {
		return nil, false
	}
	pub := keys.ToPublicKey(pubBytes)
	if pub == nil {
		return nil, false
	}

	r, s, err := keys.DecodeSignature(hello.Signature)
	if err != nil {
		return nil, false
	}
	if !keys.Verify(pub, sharedValue, r, s) {
		return nil, false
	}

	return pubBytes, true
}

// AppendHello adds the Hello fields to an HTTP header set.
func AppendHello(h http.Header, hello wire.Hello) {
	h.Set(headerPublicKey, hello.PublicKey)
	h.Set(headerSessionSignature, hello.Signature)
	h.Set(headerProtocolVersion, hello.ProtoVersion)
	h.Set(headerListenPort, strconv.Itoa(hello.ListenPort))
	h.Set(headerMoniker, hello.Moniker)
}

// ParseHello extracts a Hello from an HTTP header set.
func ParseHello(h http.Header) (wire.Hello, bool) {
	hello := wire.Hello{
		ProtoVersion: h.Get(headerProtocolVersion),
		PublicKey:    h.Get(headerPublicKey),
		Signature:    h.Get(headerSessionSignature),
		Moniker:      h.Get(headerMoniker),
	}
	if hello.PublicKey == "" || hello.Signature == "" {
		return hello, false
	}
	if p := h.Get(headerListenPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return hello, false
		}
		hello.ListenPort = port
	}
	return hello, true
}

// IsPeerUpgrade reports whether an HTTP response accepts the protocol
// upgrade.
func IsPeerUpgrade(resp *http.Response) bool {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return false
	}
	if !strings.EqualFold(resp.Header.Get("Connection"), "Upgrade") {
		return false
	}
	return strings.HasPrefix(resp.Header.Get("Upgrade"), "RTXP/")
}

// ParseRedirects extracts valid host:port endpoints from the JSON body of a
// 503 response: {"peer-ips": ["host:port", ...]}. Malformed bodies and
// malformed entries yield no endpoints; they are advisory only.
func ParseRedirects(body []byte) []string {
	var doc struct {
		PeerIPs []string `json:"peer-ips"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	var eps []string
	for _, raw := range doc.PeerIPs {
		host, port, err := net.SplitHostPort(raw)
		if err != nil || host == "" || port == "" {
			continue
		}
		if _, err := strconv.Atoi(port); err != nil {
			continue
		}
		eps = append(eps, raw)
	}
	return eps
}
