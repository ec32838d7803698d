package loupe

import (
	"testing"
	"time"
)

func TestKeyNames(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{KeyOldState.Field("open").Key().Name(), "old_state"},
		{KeyNewState.Field("closed").Key().Name(), "new_state"},
		{KeyError.Field("boom").Key().Name(), "error"},
		{KeyErrorID.Field("boom").Key().Name(), "error_id"},
		{KeyErrorKind.Field("render").Key().Name(), "error_kind"},
		{KeyField.Field("name").Key().Name(), "field"},
		{KeyOp.Field("render").Key().Name(), "op"},
		{KeyHandler.Field("search").Key().Name(), "handler"},
		{KeyType.Field("img").Key().Name(), "type"},
		{KeyTitle.Field("Clock").Key().Name(), "title"},
		{KeyURL.Field("http://localhost").Key().Name(), "url"},
		{KeyPath.Field("config.json").Key().Name(), "path"},
		{KeyAttempt.Field(2).Key().Name(), "attempt"},
		{KeySequence.Field(1).Key().Name(), "sequence"},
		{KeyCount.Field(3).Key().Name(), "count"},
		{KeyDuration.Field(100 * time.Millisecond).Key().Name(), "duration"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected key %q, got %q", tt.want, tt.got)
		}
	}
}
