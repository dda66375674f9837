// Package digest computes the admission digest checked by the mint contract:
// keccak256(abi.encodePacked(address miner, uint256 round, bytes32 prevHash, uint256 secret)).
//
// The packed layout must match the contract byte for byte, otherwise every
// mined secret is rejected on chain.
package digest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	// Size is the digest length in bytes.
	Size = 32

	addressLen = common.AddressLength
	wordLen    = 32

	// PrefixLen is the packed length of (address, round, prevHash).
	PrefixLen = addressLen + wordLen + wordLen
	// PackedLen is the full packed preimage length.
	PackedLen = PrefixLen + wordLen
)

// Digest is a 256-bit big-endian value. Comparing two digests byte-wise is
// the same as comparing them as unsigned integers.
type Digest [Size]byte

var maxDigest = func() Digest {
	var d Digest
	for i := range d {
		d[i] = 0xff
	}
	return d
}()

// FromBig converts a non-negative integer to a Digest. Values wider than
// 256 bits saturate to the maximum; negative values become zero.
func FromBig(v *big.Int) Digest {
	var d Digest
	if v == nil || v.Sign() <= 0 {
		return d
	}
	if v.BitLen() > Size*8 {
		return maxDigest
	}
	v.FillBytes(d[:])
	return d
}

// FromUint64 converts v to a Digest.
func FromUint64(v uint64) Digest {
	var d Digest
	binary.BigEndian.PutUint64(d[Size-8:], v)
	return d
}

// Below reports whether d < threshold as unsigned integers.
func (d Digest) Below(threshold Digest) bool {
	return bytes.Compare(d[:], threshold[:]) < 0
}

// Big returns d as an integer.
func (d Digest) Big() *big.Int {
	return new(big.Int).SetBytes(d[:])
}

// Hex returns the 0x-prefixed hex form.
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// Hasher computes digests for successive secrets of one (miner, round, prevHash).
// Implementations are not safe for concurrent use; create one per worker.
type Hasher interface {
	Sum(secret uint64) Digest
}

// HasherFactory creates a Hasher bound to one snapshot.
type HasherFactory func(miner common.Address, round uint64, prevHash common.Hash) Hasher

// Pack returns the packed preimage.
func Pack(miner common.Address, round uint64, prevHash common.Hash, secret uint64) []byte {
	buf := make([]byte, PackedLen)
	writePrefix(buf, miner, round, prevHash)
	binary.BigEndian.PutUint64(buf[PackedLen-8:], secret)
	return buf
}

// Compute returns the digest for one trial.
func Compute(miner common.Address, round uint64, prevHash common.Hash, secret uint64) Digest {
	return NewKeccak(miner, round, prevHash).Sum(secret)
}

func writePrefix(buf []byte, miner common.Address, round uint64, prevHash common.Hash) {
	copy(buf[:addressLen], miner[:])
	binary.BigEndian.PutUint64(buf[addressLen+wordLen-8:addressLen+wordLen], round)
	copy(buf[addressLen+wordLen:PrefixLen], prevHash[:])
}

// Keccak is the production Hasher. The packed prefix is built once; each
// Sum rewrites only the low 8 bytes of the secret word.
type Keccak struct {
	buf   [PackedLen]byte
	state hash.Hash
	out   [Size]byte
}

// NewKeccak returns a Keccak hasher for one snapshot.
func NewKeccak(miner common.Address, round uint64, prevHash common.Hash) *Keccak {
	k := &Keccak{state: sha3.NewLegacyKeccak256()}
	writePrefix(k.buf[:], miner, round, prevHash)
	return k
}

// NewKeccakHasher adapts NewKeccak to HasherFactory.
func NewKeccakHasher(miner common.Address, round uint64, prevHash common.Hash) Hasher {
	return NewKeccak(miner, round, prevHash)
}

// Sum implements Hasher.
func (k *Keccak) Sum(secret uint64) Digest {
	binary.BigEndian.PutUint64(k.buf[PackedLen-8:], secret)
	k.state.Reset()
	k.state.Write(k.buf[:])
	var d Digest
	k.state.Sum(k.out[:0])
	copy(d[:], k.out[:])
	return d
}
