package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderBytes)
	PutHeader(buf, TypeGetLedger, 1234)

	msgType, n, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if msgType != TypeGetLedger {
		t.Fatalf("type mismatch: got %s", msgType)
	}
	if n != 1234 {
		t.Fatalf("length mismatch: got %d", n)
	}
}

func TestHeaderOversize(t *testing.T) {
	buf := make([]byte, HeaderBytes)
	PutHeader(buf, TypeHello, MaxPayloadBytes+1)

	if _, _, err := ParseHeader(buf); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	hello := Hello{
		ProtoVersion: "RTXP/1.2",
		PublicKey:    "0XABCD",
		Signature:    "r|s",
		ListenPort:   51235,
		Moniker:      "node0",
	}

	buf := new(bytes.Buffer)
	if err := WriteMessage(buf, TypeHello, hello); err != nil {
		t.Fatalf("err: %v", err)
	}

	var got Hello
	if err := ExpectMessage(buf, TypeHello, &got); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got != hello {
		t.Fatalf("hello mismatch: %#v %#v", got, hello)
	}
}

func TestExpectMessageWrongType(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteMessage(buf, TypePing, Ping{Seq: 1}); err != nil {
		t.Fatalf("err: %v", err)
	}

	var hello Hello
	if err := ExpectMessage(buf, TypeHello, &hello); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestFingerprint(t *testing.T) {
	fp := FingerprintOf([]byte("ledger"))

	parsed, err := ParseFingerprint(fp.String())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if parsed != fp {
		t.Fatalf("fingerprint mismatch")
	}

	if _, err := ParseFingerprint("zz"); err == nil {
		t.Fatal("expected error for bad hex")
	}
	if _, err := ParseFingerprint("abcd"); err == nil {
		t.Fatal("expected error for short input")
	}

	var zero Fingerprint
	if !zero.IsZero() || fp.IsZero() {
		t.Fatal("IsZero misbehaves")
	}
}
