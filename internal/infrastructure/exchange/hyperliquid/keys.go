package hyperliquid

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type ecdsaKey struct {
	priv    *ecdsa.PrivateKey
	address common.Address
}

func loadKey(privateKeyHex string) (*ecdsaKey, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &ecdsaKey{priv: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}
