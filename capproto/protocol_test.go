package capproto

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Kind: RequestLaunch, ID: "svc", Caps: []string{"CAP_NET_BIND_SERVICE"}, Command: "nginx"}
	if err := WriteMessage(&buf, &req); err != nil {
		t.Fatal(err)
	}

	var got Request
	if err := ReadMessage(&buf, &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != req.Kind || got.ID != req.ID || got.Command != req.Command {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, req)
	}
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	header[0] = 0x7f // absurdly large length prefix
	buf.Write(header[:])

	var got Request
	if err := ReadMessage(&buf, &got); err == nil {
		t.Fatal("expected oversized frame to be rejected")
	}
}

func TestParseAndValidateRejectsUnknownCapability(t *testing.T) {
	if _, err := ParseAndValidate([]string{"CAP_SYS_ADMIN"}); err == nil {
		t.Fatal("expected CAP_SYS_ADMIN to be rejected (not in the allowlist)")
	}
}

func TestParseAndValidateAcceptsAllowlisted(t *testing.T) {
	caps, err := ParseAndValidate([]string{"CAP_NET_BIND_SERVICE", "CAP_CHOWN"})
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 2 {
		t.Fatalf("expected both caps preserved, got %v", caps)
	}
}
