// Package ingress builds the externally reachable URLs of the service.
package ingress

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/roach88/intake/internal/voucher"
)

// Paths served by the web package.
const (
	DatabaseSnapshotPath       = "/system/database-snapshot"
	DatabaseSnapshotCachedPath = "/system/database-snapshot/cached"
)

// Ingress knows the public origin of the service.
type Ingress struct {
	origin url.URL
	codec  *voucher.Codec
}

// New creates an Ingress for authority (host with optional port), served
// over https when secure is set.
func New(authority string, secure bool, codec *voucher.Codec) (*Ingress, error) {
	if authority == "" {
		return nil, errors.New("ingress: empty authority")
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	origin, err := url.Parse(scheme + "://" + authority)
	if err != nil {
		return nil, fmt.Errorf("ingress: authority %q: %w", authority, err)
	}
	if origin.Host != authority || origin.User != nil {
		return nil, fmt.Errorf("ingress: authority %q is not a host", authority)
	}
	return &Ingress{origin: url.URL{Scheme: origin.Scheme, Host: origin.Host}, codec: codec}, nil
}

// Origin returns scheme and authority, without a trailing slash.
func (i *Ingress) Origin() string {
	return i.origin.String()
}

// DatabaseSnapshotURL returns a download link authorized by v.
func (i *Ingress) DatabaseSnapshotURL(v voucher.Voucher[voucher.None]) (string, error) {
	return i.snapshotURL(DatabaseSnapshotPath, v)
}

// DatabaseSnapshotCachedURL returns a download link authorized by v whose
// response may be cached.
func (i *Ingress) DatabaseSnapshotCachedURL(v voucher.Voucher[voucher.None]) (string, error) {
	return i.snapshotURL(DatabaseSnapshotCachedPath, v)
}

func (i *Ingress) snapshotURL(path string, v voucher.Voucher[voucher.None]) (string, error) {
	sealed, err := voucher.Serialize(i.codec, v)
	if err != nil {
		return "", err
	}
	u := i.origin
	u.Path = path
	u.RawQuery = url.Values{"voucher": {sealed}}.Encode()
	return u.String(), nil
}
