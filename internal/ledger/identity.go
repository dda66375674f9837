package ledger

import (
	"crypto/ecdsa"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bardlex/gomint/pkg/errors"
)

// Identity is the minting account. The key is only handed to the
// transactor; it is never logged or persisted.
type Identity struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// NewIdentity parses a hex private key and derives its address. When
// address is non-empty it must match the derived one.
func NewIdentity(hexKey, address string) (*Identity, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "parse_private_key",
			"invalid miner private key")
	}

	derived := crypto.PubkeyToAddress(key.PublicKey)
	if address != "" {
		if !common.IsHexAddress(address) {
			return nil, errors.New(errors.ErrorTypeValidation, "parse_address",
				"invalid miner address").
				WithContext("address", address)
		}
		if common.HexToAddress(address) != derived {
			return nil, errors.New(errors.ErrorTypeValidation, "match_identity",
				"miner address does not match private key").
				WithContext("address", address).
				WithContext("derived", derived.Hex())
		}
	}

	return &Identity{Address: derived, key: key}, nil
}

// WatchOnly returns an identity without signing capability.
func WatchOnly(address common.Address) *Identity {
	return &Identity{Address: address}
}

// CanSign reports whether the identity carries a key.
func (id *Identity) CanSign() bool {
	return id != nil && id.key != nil
}

// String returns the address only.
func (id *Identity) String() string {
	return id.Address.Hex()
}

// LogValue keeps the key out of structured logs.
func (id *Identity) LogValue() slog.Value {
	return slog.StringValue(id.Address.Hex())
}
