package pattern

import (
	"testing"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		event   string
		want    bool
	}{
		{"exact match", "completion:result", "completion:result", true},
		{"exact mismatch", "completion:result", "completion:status", false},
		{"wildcard verb", "completion:*", "completion:result", true},
		{"wildcard verb mismatch", "completion:*", "monitor:subscribe", false},
		{"wildcard namespace", "*:result", "completion:result", true},
		{"wildcard namespace mismatch", "*:result", "completion:status", false},
		{"bare wildcard", "*", "completion:result", true},
		{"bare wildcard deep name", "*", "a:b:c", true},
		{"segment count mismatch", "completion:*", "completion:result:extra", false},
		{"wildcard needs a segment", "completion:*", "completion", false},
		{"three segments", "agent:*:done", "agent:task:done", true},
		{"three segments mismatch", "agent:*:done", "agent:task:failed", false},
		{"no partial segment match", "comp:result", "completion:result", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.event))
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"completion:*", "monitor:subscribe"}

	assert.True(t, MatchAny(patterns, "completion:result"))
	assert.True(t, MatchAny(patterns, "monitor:subscribe"))
	assert.False(t, MatchAny(patterns, "monitor:unsubscribe"))

	// Empty pattern set matches everything.
	assert.True(t, MatchAny(nil, "anything:here"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"literal", "completion:result", false},
		{"wildcard segment", "completion:*", false},
		{"bare wildcard", "*", false},
		{"single segment literal", "heartbeat", false},
		{"empty pattern", "", true},
		{"empty segment", "completion:", true},
		{"leading colon", ":result", true},
		{"embedded wildcard", "comp*:result", true},
		{"double colon", "a::b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errdefs.IsInvalidPattern(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	assert.NoError(t, ValidateAll([]string{"a:b", "c:*"}))
	assert.Error(t, ValidateAll([]string{"a:b", ""}))
}
