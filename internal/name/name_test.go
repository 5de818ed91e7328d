package name

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTTL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TTL
		wantErr bool
	}{
		{name: "one day", input: "1d", want: TTL{Count: 1, Unit: 'd'}},
		{name: "three weeks", input: "3w", want: TTL{Count: 3, Unit: 'w'}},
		{name: "twelve months", input: "12m", want: TTL{Count: 12, Unit: 'm'}},
		{name: "max digits", input: "9999y", want: TTL{Count: 9999, Unit: 'y'}},
		{name: "zero count", input: "0d", wantErr: true},
		{name: "five digits", input: "10000d", wantErr: true},
		{name: "bad unit", input: "3h", wantErr: true},
		{name: "missing unit", input: "3", wantErr: true},
		{name: "missing count", input: "w", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTTL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestTTLDuration(t *testing.T) {
	tests := []struct {
		ttl  string
		want time.Duration
	}{
		{ttl: "1d", want: 86400 * time.Second},
		{ttl: "1w", want: 604800 * time.Second},
		{ttl: "1m", want: 2592000 * time.Second},
		{ttl: "1y", want: 31536000 * time.Second},
		{ttl: "3w", want: 3 * 604800 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.ttl, func(t *testing.T) {
			ttl, err := ParseTTL(tt.ttl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ttl.Duration())
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		host string
		at   time.Time
		ttl  TTL
	}{
		{
			name: "utc",
			host: "alpha",
			at:   time.Date(2024, 7, 7, 21, 43, 0, 0, time.UTC),
			ttl:  TTL{Count: 3, Unit: 'w'},
		},
		{
			name: "positive offset",
			host: "backup-01",
			at:   time.Date(2024, 1, 15, 10, 30, 5, 0, time.FixedZone("", 8*3600)),
			ttl:  TTL{Count: 1, Unit: 'd'},
		},
		{
			name: "negative offset",
			host: "nas.local",
			at:   time.Date(2024, 12, 31, 23, 59, 59, 0, time.FixedZone("", -5*3600)),
			ttl:  TTL{Count: 12, Unit: 'm'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.host, tt.at, tt.ttl)
			snap, err := Parse("tank/home@" + encoded)
			require.NoError(t, err)

			assert.Equal(t, "tank/home", snap.Dataset)
			assert.Equal(t, tt.host, snap.Host)
			assert.True(t, snap.CreatedAt.Equal(tt.at))
			assert.Equal(t, tt.ttl, snap.TTL)
			assert.Equal(t, "tank/home@"+encoded, snap.String())
		})
	}
}

func TestEncodeSubstitutesPlus(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("", 2*3600))
	encoded := Encode("alpha", at, TTL{Count: 1, Unit: 'w'})
	assert.Equal(t, "ZAP_alpha_2024-01-15T10:30:00p0200--1w", encoded)
	assert.NotContains(t, encoded, "+")

	at = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	encoded = Encode("alpha", at, TTL{Count: 1, Unit: 'w'})
	assert.Equal(t, "ZAP_alpha_2024-01-15T10:30:00p0000--1w", encoded)
}

func TestParseRejectsForeignNames(t *testing.T) {
	tests := []string{
		"tank/home@manual_backup",
		"tank/home@zfs-auto-snap_daily-2024-01-15",
		"tank/home@ZAP_alpha_2024-01-15--1w",
		"tank/home@ZAP_alpha_2024-01-15T10:30:00p0000--1h",
		"tank/home@ZAP_alpha_2024-01-15T10:30:00p0000--12345d",
		"tank/home@ZAP__2024-01-15T10:30:00p0000--1w",
		"tank/home@ZAP_alpha_2024-01-15T10:30:00p0000",
		"tank/home@",
		"@ZAP_alpha_2024-01-15T10:30:00p0000--1w",
		"ZAP_alpha_2024-01-15T10:30:00p0000--1w",
		"tank/home@zap_alpha_2024-01-15T10:30:00p0000--1w",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestParseBookmark(t *testing.T) {
	snap, err := Parse("tank/home#ZAP_alpha_2024-01-15T10:30:00p0000--3w")
	require.NoError(t, err)
	assert.Equal(t, "tank/home", snap.Dataset)
	assert.Equal(t, "alpha", snap.Host)
	assert.Equal(t, "tank/home#ZAP_alpha_2024-01-15T10:30:00p0000--3w", snap.Bookmark())
}

func TestPool(t *testing.T) {
	snap, err := Parse("tank/home/alice@ZAP_alpha_2024-01-15T10:30:00p0000--1d")
	require.NoError(t, err)
	assert.Equal(t, "tank", snap.Pool())

	snap, err = Parse("tank@ZAP_alpha_2024-01-15T10:30:00p0000--1d")
	require.NoError(t, err)
	assert.Equal(t, "tank", snap.Pool())
}

func TestExpired(t *testing.T) {
	creation := time.Unix(1_000_000, 0).UTC()
	snap := &Snapshot{
		Dataset:   "tank/home",
		Host:      "alpha",
		CreatedAt: creation,
		TTL:       TTL{Count: 1, Unit: 'd'},
	}

	assert.False(t, snap.Expired(time.Unix(1_086_400, 0)), "exactly at expiry is not expired")
	assert.True(t, snap.Expired(time.Unix(1_086_401, 0)), "one second past expiry is expired")
	assert.False(t, snap.Expired(time.Unix(1_000_000, 0)))
}

func TestExpiredThreeWeeks(t *testing.T) {
	creation := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap, err := Parse("tank/home@" + Encode("alpha", creation, TTL{Count: 3, Unit: 'w'}))
	require.NoError(t, err)

	assert.False(t, snap.Expired(creation.AddDate(0, 0, 20)))
	assert.True(t, snap.Expired(creation.AddDate(0, 0, 21).Add(time.Second)))
}
