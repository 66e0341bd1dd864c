package mint

import (
	"time"

	"github.com/walnutd/walnut/cashu/nuts/nut06"
	"github.com/walnutd/walnut/mint/lightning"
)

// Config carries everything needed to load a mint: the signing key
// derivation index, storage path, fees, operational limits and the
// payment backend.
type Config struct {
	DerivationPathIdx uint32
	Port              string
	MintPath          string
	InputFeePpk       uint
	MintInfo          MintInfo
	Limits            MintLimits
	LightningClient   lightning.Client
	LogLevel          LogLevel
	// overrides the default timeout on outgoing payments.
	// Used in tests
	MeltTimeout *time.Duration
}

// MintInfo is the operator-provided metadata served on the
// info endpoint.
type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	Contact         []nut06.ContactInfo
	Motd            string
	IconURL         string
	URLs            []string
}

// MintLimits bounds the amounts the mint will accept. Zero values
// leave the corresponding limit unenforced.
type MintLimits struct {
	MaxBalance      uint64
	MintingSettings MintMethodSettings
	MeltingSettings MeltMethodSettings
}

type MintMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MeltMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)
