package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionString(t *testing.T) {
	assert.Equal(t, "config:write", PermConfigWrite.String())
	assert.Equal(t, "admin:provision", PermAdminProvision.String())
	assert.Equal(t, "admin:*", Permission{ResourceAdmin, ActionAny}.String())
}

func TestParsePermission(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Permission
		wantErr bool
	}{
		{"simple", "config:read", Permission{ResourceConfig, ActionRead}, false},
		{"wildcard action", "admin:*", Permission{ResourceAdmin, ActionAny}, false},
		{"bare wildcard", "*", Permission{ResourceAny, ActionAny}, false},
		{"missing action", "config", Permission{}, true},
		{"empty action", "config:", Permission{}, true},
		{"empty resource", ":read", Permission{}, true},
		{"empty string", "", Permission{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePermission(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPermissionCovers(t *testing.T) {
	tests := []struct {
		name     string
		held     Permission
		required Permission
		covers   bool
	}{
		{"exact match", PermConfigWrite, PermConfigWrite, true},
		{"different action", PermConfigRead, PermConfigWrite, false},
		{"different resource", PermTokenRead, PermConfigRead, false},
		{"wildcard action covers", Permission{ResourceAdmin, ActionAny}, PermAdminProvision, true},
		{"wildcard action wrong resource", Permission{ResourceAdmin, ActionAny}, PermConfigWrite, false},
		{"bare wildcard covers everything", Permission{ResourceAny, ActionAny}, PermTokenRevoke, true},
		{"specific does not cover wildcard", PermAdminProvision, Permission{ResourceAdmin, ActionAny}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.covers, tt.held.Covers(tt.required))
		})
	}
}

func TestHoldsPermission(t *testing.T) {
	held := []string{"config:read", "admin:*", "not-a-permission"}

	assert.True(t, HoldsPermission(held, PermConfigRead))
	assert.True(t, HoldsPermission(held, PermAdminProvision))
	assert.False(t, HoldsPermission(held, PermConfigWrite))
	assert.False(t, HoldsPermission(nil, PermConfigRead))

	// Malformed entries are skipped, never treated as grants
	assert.False(t, HoldsPermission([]string{"garbage"}, PermConfigRead))
}
