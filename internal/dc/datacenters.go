// Package dc holds the fixed Telegram datacenter and middle-proxy address
// tables, and the shared secret used to authenticate with middle
// proxies. These are not configuration: Telegram publishes them and
// every obfuscated-proxy implementation embeds the same values.
package dc

import "encoding/hex"

// Port is the TCP port every direct datacenter listens on.
const Port = 443

// DatacentersV4 lists the IPv4 address of datacenters 1..5, indexed by
// the 0-based dc index (datacenter number minus one) that the client
// handshake resolves.
var DatacentersV4 = [5]string{
	"149.154.175.50",
	"149.154.167.51",
	"149.154.175.100",
	"149.154.167.91",
	"149.154.171.5",
}

// DatacentersV6 lists the IPv6 address of datacenters 1..5, indexed the
// same way as DatacentersV4.
var DatacentersV6 = [5]string{
	"2001:b28:f23d:f001::a",
	"2001:67c:04e8:f002::a",
	"2001:b28:f23d:f003::a",
	"2001:67c:04e8:f004::a",
	"2001:b28:f23f:f005::a",
}

// MiddleProxy is a single middle-proxy endpoint.
type MiddleProxy struct {
	Host string
	Port int
}

// MiddleProxiesV4 lists the IPv4 middle-proxy endpoints, indexed by the
// same 0-based dc index as DatacentersV4. There is no IPv6 table: the reference implementation this
// is grounded on never advertises a v6 middle-proxy route either.
var MiddleProxiesV4 = [5]MiddleProxy{
	{"149.154.175.50", 8888},
	{"149.154.162.38", 80},
	{"149.154.175.100", 8888},
	{"91.108.4.136", 8888},
	{"91.108.56.181", 8888},
}

const proxySecretHex = "" +
	"c4f9faca9678e6bb48ad6c7e2ce5c0d24430645d554addeb55419e034da62721" +
	"d046eaab6e52ab14a95a443ecfb3463e79a05a66612adf9caeda8be9a80da698" +
	"6fb0a6ff387af84d88ef3a6413713e5c3377f6e1a3d47d99f5e0c56eece8f05c" +
	"54c490b079e31bef82ff0ee8f2b0a32756d249c5f21269816cb7061b265db212"

// ProxySecret is the shared secret mixed into every middle-proxy key
// derivation. Its first four bytes double as the RPC_NONCE key
// selector.
var ProxySecret = mustDecodeHex(proxySecretHex)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("dc: malformed embedded secret: " + err.Error())
	}
	return b
}

// Resolve returns the datacenter address for dcIndex (0-based, already
// resolved from the client handshake's signed dc_index), honoring the
// v6 preference.
func Resolve(dcIndex int, preferIPv6 bool) (string, bool) {
	if preferIPv6 {
		if dcIndex < 0 || dcIndex >= len(DatacentersV6) {
			return "", false
		}
		return DatacentersV6[dcIndex], true
	}
	if dcIndex < 0 || dcIndex >= len(DatacentersV4) {
		return "", false
	}
	return DatacentersV4[dcIndex], true
}

// ResolveMiddleProxy returns the middle-proxy endpoint for dcIndex
// (0-based).
func ResolveMiddleProxy(dcIndex int) (MiddleProxy, bool) {
	if dcIndex < 0 || dcIndex >= len(MiddleProxiesV4) {
		return MiddleProxy{}, false
	}
	return MiddleProxiesV4[dcIndex], true
}
