package loupe

import "testing"

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{ConnectionState(999), "unknown"},
	}
	for _, tt := range tests {
		if s := tt.state.String(); s != tt.want {
			t.Errorf("expected %q, got %q", tt.want, s)
		}
	}
}

func TestConnectionState_Values(t *testing.T) {
	// Verify iota ordering
	if StateConnecting != 0 {
		t.Errorf("expected StateConnecting=0, got %d", StateConnecting)
	}
	if StateOpen != 1 {
		t.Errorf("expected StateOpen=1, got %d", StateOpen)
	}
	if StateClosed != 2 {
		t.Errorf("expected StateClosed=2, got %d", StateClosed)
	}
}

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindTransport, "transport"},
		{KindNotReady, "not_ready"},
		{KindRender, "render"},
		{KindHandler, "handler"},
		{KindConnection, "connection"},
		{KindSchema, "schema"},
		{KindDecode, "decode"},
		{ErrorKind(99), "unknown"},
	}
	for _, tt := range tests {
		if s := tt.kind.String(); s != tt.want {
			t.Errorf("expected %q, got %q", tt.want, s)
		}
	}
}
