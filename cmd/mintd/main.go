package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/walnutd/walnut/cashu/nuts/nut06"
	"github.com/walnutd/walnut/mint"
	"github.com/walnutd/walnut/mint/lightning"
)

func main() {
	// env file is optional, the environment may already be set
	godotenv.Load()

	config, err := configFromEnv()
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	server, err := mint.SetupMintServer(config)
	if err != nil {
		log.Fatalf("error setting up mint server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		server.Shutdown()
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("mint server stopped: %v", err)
	}
}

func configFromEnv() (mint.Config, error) {
	var inputFeePpk uint
	if feeEnv, ok := os.LookupEnv("INPUT_FEE_PPK"); ok {
		fee, err := strconv.ParseUint(feeEnv, 10, 32)
		if err != nil {
			return mint.Config{}, fmt.Errorf("invalid INPUT_FEE_PPK: %v", err)
		}
		inputFeePpk = uint(fee)
	}

	var derivationPathIdx uint32
	if idxEnv, ok := os.LookupEnv("DERIVATION_PATH_IDX"); ok {
		idx, err := strconv.ParseUint(idxEnv, 10, 32)
		if err != nil {
			return mint.Config{}, fmt.Errorf("invalid DERIVATION_PATH_IDX: %v", err)
		}
		derivationPathIdx = uint32(idx)
	}

	limits, err := limitsFromEnv()
	if err != nil {
		return mint.Config{}, err
	}

	lightningClient, err := lightningFromEnv()
	if err != nil {
		return mint.Config{}, err
	}

	logLevel := mint.Info
	if os.Getenv("LOG") == "debug" {
		logLevel = mint.Debug
	}

	return mint.Config{
		DerivationPathIdx: derivationPathIdx,
		Port:              os.Getenv("MINT_PORT"),
		MintPath:          os.Getenv("MINT_DB_PATH"),
		InputFeePpk:       inputFeePpk,
		MintInfo: mint.MintInfo{
			Name:            os.Getenv("MINT_NAME"),
			Description:     os.Getenv("MINT_DESCRIPTION"),
			LongDescription: os.Getenv("MINT_DESCRIPTION_LONG"),
			Contact:         contactInfoFromEnv(),
			Motd:            os.Getenv("MINT_MOTD"),
			IconURL:         os.Getenv("MINT_ICON_URL"),
		},
		Limits:          limits,
		LightningClient: lightningClient,
		LogLevel:        logLevel,
	}, nil
}

func limitsFromEnv() (mint.MintLimits, error) {
	var limits mint.MintLimits

	parse := func(env string, dst *uint64) error {
		if value, ok := os.LookupEnv(env); ok {
			parsed, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %v: %v", env, err)
			}
			*dst = parsed
		}
		return nil
	}

	if err := parse("MAX_BALANCE", &limits.MaxBalance); err != nil {
		return limits, err
	}
	if err := parse("MIN_MINT_AMOUNT", &limits.MintingSettings.MinAmount); err != nil {
		return limits, err
	}
	if err := parse("MAX_MINT_AMOUNT", &limits.MintingSettings.MaxAmount); err != nil {
		return limits, err
	}
	if err := parse("MIN_MELT_AMOUNT", &limits.MeltingSettings.MinAmount); err != nil {
		return limits, err
	}
	if err := parse("MAX_MELT_AMOUNT", &limits.MeltingSettings.MaxAmount); err != nil {
		return limits, err
	}

	return limits, nil
}

func lightningFromEnv() (lightning.Client, error) {
	switch os.Getenv("LIGHTNING_BACKEND") {
	case "Lnd":
		config, err := lightning.LndConfigFromPaths(
			os.Getenv("LND_GRPC_HOST"),
			os.Getenv("LND_CERT_PATH"),
			os.Getenv("LND_MACAROON_PATH"),
		)
		if err != nil {
			return nil, fmt.Errorf("error setting up lnd config: %v", err)
		}
		return lightning.SetupLndClient(config)
	case "FakeBackend":
		return &lightning.FakeBackend{}, nil
	}
	return nil, fmt.Errorf("invalid LIGHTNING_BACKEND")
}

func contactInfoFromEnv() []nut06.ContactInfo {
	var contact []nut06.ContactInfo
	if email := os.Getenv("MINT_CONTACT_EMAIL"); email != "" {
		contact = append(contact, nut06.ContactInfo{Method: "email", Info: email})
	}
	if nostr := os.Getenv("MINT_CONTACT_NOSTR"); nostr != "" {
		contact = append(contact, nut06.ContactInfo{Method: "nostr", Info: nostr})
	}
	return contact
}
