package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/cashu/nuts/nut05"
	"github.com/walnutd/walnut/cashu/nuts/nut11"
	"github.com/walnutd/walnut/wallet"
)

var walnut *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	config := wallet.Config{WalletPath: path, CurrentMintURL: "http://127.0.0.1:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}
	if len(envPath) > 0 {
		if err := godotenv.Load(envPath); err == nil {
			config.CurrentMintURL = getMintURL()
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".walnut", "wallet")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func getMintURL() string {
	mintURL := os.Getenv("MINT_URL")
	if len(mintURL) > 0 {
		return mintURL
	}

	mintHost := os.Getenv("MINT_HOST")
	mintPort := os.Getenv("MINT_PORT")
	if len(mintHost) == 0 || len(mintPort) == 0 {
		return "http://127.0.0.1:3338"
	}

	url := &url.URL{
		Scheme: "http",
		Host:   mintHost + ":" + mintPort,
	}
	return url.String()
}

func setupWallet(ctx *cli.Context) error {
	var err error
	walnut, err = wallet.LoadWallet(walletConfig())
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "walnut",
		Usage: "cashu cli wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			mnemonicCmd,
			restoreCmd,
			lockPubkeyCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	fmt.Printf("%v sats\n", walnut.GetBalance())
	return nil
}

const quoteFlag = "quote"

var mintCmd = &cli.Command{
	Name:  "mint",
	Usage: "Request mint quote. The minted ecash can be redeemed with the --quote flag after paying the invoice",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  quoteFlag,
			Usage: "Specify a paid quote to mint the ecash",
		},
	},
	Before: setupWallet,
	Action: mint,
}

func mint(ctx *cli.Context) error {
	// if a quote was passed, redeem the ecash for it
	if ctx.IsSet(quoteFlag) {
		if err := mintTokens(ctx.String(quoteFlag)); err != nil {
			printErr(err)
		}
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	if err := requestMint(args.First()); err != nil {
		printErr(err)
	}
	return nil
}

func requestMint(amountStr string) error {
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}

	mintResponse, err := walnut.RequestMint(amount)
	if err != nil {
		return err
	}

	fmt.Printf("invoice: %v\n\n", mintResponse.Request)
	fmt.Printf("after paying the invoice, redeem the ecash with:\n\nwalnut mint --quote %v\n", mintResponse.Quote)
	return nil
}

func mintTokens(quoteId string) error {
	quoteState, err := walnut.MintQuoteState(quoteId)
	if err != nil {
		return err
	}
	if quoteState.State == nut04.Unpaid {
		return errors.New("invoice has not been paid")
	}

	amountMinted, err := walnut.MintTokens(quoteId)
	if err != nil {
		return err
	}

	fmt.Printf("%v sats minted\n", amountMinted)
	return nil
}

const (
	includeFeesFlag = "include-fees"
	lockFlag        = "lock"
)

var sendCmd = &cli.Command{
	Name:  "send",
	Usage: "Generate a cashu token for the amount",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  includeFeesFlag,
			Usage: "Include fees so the receiver can redeem the full amount",
		},
		&cli.StringFlag{
			Name:  lockFlag,
			Usage: "Lock the ecash to a public key",
		},
	},
	Before: setupWallet,
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	sendAmount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	var token cashu.Token
	if ctx.IsSet(lockFlag) {
		pubkey, err := nut11.ParsePublicKey(ctx.String(lockFlag))
		if err != nil {
			printErr(err)
		}
		token, err = walnut.SendToPubkey(sendAmount, pubkey)
		if err != nil {
			printErr(err)
		}
	} else {
		token, err = walnut.Send(sendAmount, ctx.Bool(includeFeesFlag))
		if err != nil {
			printErr(err)
		}
	}

	tokenStr, err := token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v\n", tokenStr)
	return nil
}

var receiveCmd = &cli.Command{
	Name:   "receive",
	Usage:  "Redeem a cashu token",
	Before: setupWallet,
	Action: receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("cashu token not provided"))
	}

	token, err := cashu.DecodeToken(args.First())
	if err != nil {
		printErr(err)
	}

	amountReceived, err := walnut.Receive(token)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", amountReceived)
	return nil
}

var payCmd = &cli.Command{
	Name:   "pay",
	Usage:  "Pay a lightning invoice",
	Before: setupWallet,
	Action: pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}

	meltResponse, err := walnut.Melt(args.First())
	if err != nil {
		printErr(err)
	}

	switch meltResponse.State {
	case nut05.Paid:
		fmt.Printf("invoice paid. Preimage: %v\n", meltResponse.Preimage)
	case nut05.Pending:
		fmt.Println("payment is pending")
	default:
		fmt.Println("payment failed")
	}
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Mnemonic to restore the wallet",
	Before: setupWallet,
	Action: mnemonic,
}

func mnemonic(ctx *cli.Context) error {
	fmt.Println(walnut.Mnemonic())
	return nil
}

var restoreCmd = &cli.Command{
	Name:   "restore",
	Usage:  "Restore wallet from mnemonic",
	Action: restore,
}

func restore(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("mnemonic not provided"))
	}
	mnemonic := args.First()

	config := walletConfig()
	proofs, err := wallet.Restore(config.WalletPath, mnemonic, []string{config.CurrentMintURL})
	if err != nil {
		printErr(fmt.Errorf("error restoring wallet: %v", err))
	}

	fmt.Printf("restored proofs for amount of: %v\n", proofs.Amount())
	return nil
}

var lockPubkeyCmd = &cli.Command{
	Name:   "lockpubkey",
	Usage:  "Public key to receive locked ecash",
	Before: setupWallet,
	Action: lockPubkey,
}

func lockPubkey(ctx *cli.Context) error {
	pubkey, err := walnut.GetReceivePubkey()
	if err != nil {
		printErr(err)
	}
	fmt.Println(hex.EncodeToString(pubkey.SerializeCompressed()))
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(0)
}
