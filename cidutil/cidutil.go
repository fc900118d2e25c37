// Package cidutil derives content identifiers for source binaries.
package cidutil

import (
	"encoding/hex"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Identity is the content identity of one binary.
type Identity struct {
	SHA256 string
	CID    string
}

// CIDv1RawSHA256 returns a CIDv1 using the "raw" multicodec and a sha2-256
// multihash of data.
func CIDv1RawSHA256(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Of computes the hex sha256 digest and CID string of data.
func Of(data []byte) (Identity, error) {
	c, err := CIDv1RawSHA256(data)
	if err != nil {
		return Identity{}, err
	}
	dec, err := multihash.Decode(c.Hash())
	if err != nil {
		return Identity{}, err
	}
	return Identity{SHA256: hex.EncodeToString(dec.Digest), CID: c.String()}, nil
}
