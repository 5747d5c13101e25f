package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		length     int
		wantPrefix string
	}{
		{name: "relay node ID", prefix: "relay", length: 12, wantPrefix: "relay_"},
		{name: "short ID", prefix: "test", length: 8, wantPrefix: "test_"},
		{name: "long ID", prefix: "test", length: 32, wantPrefix: "test_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateSecureID(tt.prefix, tt.length)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, tt.wantPrefix))
			assert.Len(t, got, len(tt.wantPrefix)+tt.length)

			suffix := strings.TrimPrefix(got, tt.wantPrefix)
			for _, c := range suffix {
				assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z'), "unexpected char %q", c)
			}
		})
	}
}

func TestNewProvisionalIDIsOrderedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewProvisionalID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
		require.True(t, strings.HasPrefix(id, ProvisionalPrefix+"_"))
	}

	first := NewProvisionalID()
	second := NewProvisionalID()
	assert.Less(t, first, second)
}

func TestIsUUID(t *testing.T) {
	assert.True(t, IsUUID(NewEntityID()))
	assert.True(t, IsUUID("3f2504e0-4f89-11d3-9a0c-0305e82c3301"))
	assert.False(t, IsUUID(""))
	assert.False(t, IsUUID("not-a-uuid"))
	assert.False(t, IsUUID(NewProvisionalID()))
}
