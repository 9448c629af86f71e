package dc

import "testing"

func TestProxySecretLength(t *testing.T) {
	if len(ProxySecret) != 128 {
		t.Fatalf("expected a 128-byte proxy secret, got %d", len(ProxySecret))
	}
}

func TestResolveBounds(t *testing.T) {
	if _, ok := Resolve(-1, false); ok {
		t.Fatalf("negative dc index must not resolve")
	}
	if _, ok := Resolve(len(DatacentersV4), false); ok {
		t.Fatalf("dc index beyond the table must not resolve")
	}
	addr, ok := Resolve(1, false)
	if !ok || addr != DatacentersV4[1] {
		t.Fatalf("unexpected resolve(1, false): addr=%s ok=%v", addr, ok)
	}
	addr6, ok := Resolve(1, true)
	if !ok || addr6 != DatacentersV6[1] {
		t.Fatalf("unexpected resolve(1, true): addr=%s ok=%v", addr6, ok)
	}
}

func TestResolveMiddleProxyBounds(t *testing.T) {
	if _, ok := ResolveMiddleProxy(-1); ok {
		t.Fatalf("negative dc index must not resolve a middle proxy")
	}
	mp, ok := ResolveMiddleProxy(0)
	if !ok || mp != MiddleProxiesV4[0] {
		t.Fatalf("unexpected middle proxy for dc 0: %+v ok=%v", mp, ok)
	}
}
