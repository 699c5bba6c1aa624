package signal

import (
	"encoding/json"
	"errors"
	"testing"
)

const testSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func description(t *testing.T, typ, sdp string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]string{"type": typ, "sdp": sdp})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return data
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"offer", "answer", "candidate"} {
		k, err := ParseKind(s)
		if err != nil {
			t.Errorf("ParseKind(%q) failed: %v", s, err)
		}
		if string(k) != s {
			t.Errorf("Expected %q, got %q", s, k)
		}
	}
	if _, err := ParseKind("pranswer"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload json.RawMessage
		wantErr error
	}{
		{"offer", KindOffer, description(t, "offer", testSDP), nil},
		{"answer", KindAnswer, description(t, "answer", testSDP), nil},
		{"offer with answer type", KindOffer, description(t, "answer", testSDP), ErrInvalidPayload},
		{"offer with bad sdp", KindOffer, description(t, "offer", "hello"), ErrInvalidPayload},
		{"offer not an object", KindOffer, json.RawMessage(`"v=0"`), ErrInvalidPayload},
		{"candidate", KindCandidate, json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.168.1.10 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`), nil},
		{"candidate without prefix", KindCandidate, json.RawMessage(`{"candidate":"1 1 udp 2130706431 192.168.1.10 50000 typ host"}`), nil},
		{"empty candidate", KindCandidate, json.RawMessage(`{"candidate":""}`), ErrInvalidPayload},
		{"garbage candidate", KindCandidate, json.RawMessage(`{"candidate":"candidate:nope"}`), ErrInvalidPayload},
		{"unknown kind", Kind("bye"), json.RawMessage(`{}`), ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.kind, tt.payload)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
