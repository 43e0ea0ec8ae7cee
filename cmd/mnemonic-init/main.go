// mnemonic-init 交互式读取 Base 助记词，派生地址确认后写入加密 secret store（env/BASE_MNEMONIC）。
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/evm"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/secretstore"
)

func main() {
	var (
		dbPath    = flag.String("badger", getenv("COPILOT_SECRET_DB", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("COPILOT_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		path      = flag.String("path", getenv("BASE_DERIVATION_PATH", "m/44'/60'/0'/0/0"), "derivation path")
		force     = flag.Bool("force", false, "overwrite an existing BASE_MNEMONIC")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(errors.New("secret key is required: set COPILOT_SECRET_KEY or pass -secret-key"))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dbPath, EncryptionKey: keyBytes})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	const name = secretstore.EnvPrefix + "BASE_MNEMONIC"
	if _, found, err := ss.GetString(name); err != nil {
		fatal(err)
	} else if found && !*force {
		fatal(fmt.Errorf("%s already stored (use -force to overwrite)", name))
	}

	fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
	mn := strings.Join(strings.Fields(readLine()), " ")
	if mn == "" {
		fatal(errors.New("mnemonic is empty"))
	}

	key, err := evm.DeriveFromMnemonic(mn, *path)
	if err != nil {
		fatal(err)
	}
	if err := ss.SetString(name, mn); err != nil {
		fatal(err)
	}
	if err := ss.SetString(secretstore.EnvPrefix+"BASE_DERIVATION_PATH", *path); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已写入 %s，Base 地址：%s\n", *dbPath, crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

func readLine() string {
	r := bufio.NewReader(os.Stdin)
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}
