package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-core/pkg/constants"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		limit   string
		offset  string
		want    Params
		wantErr bool
	}{
		{"defaults", "", "", Params{Limit: constants.DefaultPageSize}, false},
		{"explicit", "5", "10", Params{Limit: 5, Offset: 10}, false},
		{"limit above max", "1000", "", Params{Limit: constants.MaxPageSize}, false},
		{"zero limit", "0", "", Params{Limit: constants.DefaultPageSize}, false},
		{"negative offset", "", "-4", Params{Limit: constants.DefaultPageSize}, false},
		{"bad limit", "ten", "", Params{}, true},
		{"bad offset", "", "x", Params{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.limit, tt.offset)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParams_Page(t *testing.T) {
	p := Params{Limit: 2, Offset: 4}

	full := p.Page(2)
	assert.True(t, full.HasMore)
	require.NotNil(t, full.NextOffset)
	assert.Equal(t, 6, *full.NextOffset)

	partial := p.Page(1)
	assert.False(t, partial.HasMore)
	assert.Nil(t, partial.NextOffset)
}
