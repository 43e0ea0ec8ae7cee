package evm

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// DefaultDerivationPath 以太坊标准 BIP-44 路径
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// ParsePrivateKey 解析十六进制私钥（可带 0x 前缀）
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// DeriveFromMnemonic 按派生路径从助记词得到私钥
func DeriveFromMnemonic(mnemonic, derivationPath string) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	derivationPath = strings.TrimSpace(derivationPath)
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic is required")
	}
	if derivationPath == "" {
		derivationPath = DefaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation_path: %w", err)
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derive failed: %w", err)
	}
	key, err := w.PrivateKey(acct)
	if err != nil {
		return nil, fmt.Errorf("private key failed: %w", err)
	}
	return key, nil
}

// LoadKey 优先使用私钥，否则从助记词派生
func LoadKey(privateKey, mnemonic, derivationPath string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(privateKey) != "" {
		return ParsePrivateKey(privateKey)
	}
	if strings.TrimSpace(mnemonic) != "" {
		return DeriveFromMnemonic(mnemonic, derivationPath)
	}
	return nil, fmt.Errorf("BASE_PRIVATE_KEY or BASE_MNEMONIC is required")
}
