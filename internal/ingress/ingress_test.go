package ingress

import (
	"net/url"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intake/internal/voucher"
)

var epoch = time.Unix(1760005665, 0).UTC()

func TestOrigin(t *testing.T) {
	codec := voucher.NewCodec([]byte("09734462143c5e195c36299bb6892ec2"))

	secure, err := New("foo", true, codec)
	require.NoError(t, err)
	assert.Equal(t, "https://foo", secure.Origin())

	plain, err := New("localhost:8080", false, codec)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", plain.Origin())
}

func TestNewRejectsBadAuthority(t *testing.T) {
	for _, authority := range []string{"", "foo/bar", "user@foo", "foo?x=1"} {
		_, err := New(authority, true, nil)
		assert.Error(t, err, authority)
	}
}

func TestDatabaseSnapshotURL(t *testing.T) {
	codec := voucher.NewCodec([]byte("09734462143c5e195c36299bb6892ec2"),
		voucher.WithClock(testclock.NewClock(epoch)))
	i, err := New("foo", true, codec)
	require.NoError(t, err)

	link, err := i.DatabaseSnapshotURL(voucher.Create(voucher.PurposeDatabaseSnapshot, epoch, voucher.None{}))
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "foo", u.Host)
	assert.Equal(t, DatabaseSnapshotPath, u.Path)

	v, err := voucher.Deserialize[voucher.None](codec, u.Query().Get("voucher"), voucher.PurposeDatabaseSnapshot, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, epoch, v.CreatedAt)
}

func TestDatabaseSnapshotCachedURLCarriesVoucher(t *testing.T) {
	codec := voucher.NewCodec([]byte("09734462143c5e195c36299bb6892ec2"),
		voucher.WithClock(testclock.NewClock(epoch)))
	i, err := New("localhost:8080", false, codec)
	require.NoError(t, err)

	link, err := i.DatabaseSnapshotCachedURL(voucher.Create(voucher.PurposeDatabaseSnapshot, epoch, voucher.None{}))
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080"+DatabaseSnapshotCachedPath, u.Scheme+"://"+u.Host+u.Path)

	_, err = voucher.Deserialize[voucher.None](codec, u.Query().Get("voucher"), voucher.PurposeDatabaseSnapshot, 10*time.Second)
	require.NoError(t, err)
}
