package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	FakePreimage = "0000000000000000"
)

// FakeBackend settles every invoice it creates and pays any invoice
// it is handed. Outgoing payment outcomes can be forced through
// PaymentOutcome to exercise failure paths.
type FakeBackend struct {
	invoices []Invoice

	// outcome reported by SendPayment. Zero value is Succeeded.
	PaymentOutcome State
	// fee reported for successful payments
	PaymentFee uint64
	// reserve quoted by FeeReserve
	Reserve uint64
}

func (fb *FakeBackend) ConnectionStatus() error { return nil }

func (fb *FakeBackend) CreateInvoice(amount uint64) (Invoice, error) {
	req, preimage, paymentHash, err := createFakeInvoice(amount)
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Preimage:       preimage,
		Settled:        true,
		Amount:         amount,
		Expiry:         uint64(time.Now().Unix()),
	}
	fb.invoices = append(fb.invoices, invoice)

	return invoice, nil
}

func (fb *FakeBackend) InvoiceStatus(hash string) (Invoice, error) {
	invoiceIdx := slices.IndexFunc(fb.invoices, func(i Invoice) bool {
		return i.PaymentHash == hash
	})
	if invoiceIdx == -1 {
		return Invoice{}, errors.New("invoice does not exist")
	}

	return fb.invoices[invoiceIdx], nil
}

func (fb *FakeBackend) SendPayment(ctx context.Context, request string, amount uint64) (PaymentStatus, error) {
	invoice, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("error decoding invoice: %v", err)
	}

	if fb.PaymentOutcome == Failed {
		return PaymentStatus{PaymentStatus: Failed}, errors.New("payment failed")
	}
	if fb.PaymentOutcome == Pending {
		// record the in-flight payment so its status can be
		// resolved later
		fb.invoices = append(fb.invoices, Invoice{
			PaymentRequest: request,
			PaymentHash:    invoice.PaymentHash,
			Preimage:       FakePreimage,
		})
		return PaymentStatus{PaymentStatus: Pending}, nil
	}

	outgoingPayment := Invoice{
		PaymentRequest: request,
		PaymentHash:    invoice.PaymentHash,
		Preimage:       FakePreimage,
		Settled:        true,
	}
	fb.invoices = append(fb.invoices, outgoingPayment)

	return PaymentStatus{
		Preimage:      FakePreimage,
		PaymentStatus: Succeeded,
		PaymentFee:    fb.PaymentFee,
	}, nil
}

func (fb *FakeBackend) OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error) {
	if fb.PaymentOutcome != Succeeded {
		return PaymentStatus{PaymentStatus: fb.PaymentOutcome}, nil
	}

	invoiceIdx := slices.IndexFunc(fb.invoices, func(i Invoice) bool {
		return i.PaymentHash == hash
	})
	if invoiceIdx == -1 {
		return PaymentStatus{}, errors.New("payment does not exist")
	}

	return PaymentStatus{
		Preimage:      fb.invoices[invoiceIdx].Preimage,
		PaymentStatus: Succeeded,
		PaymentFee:    fb.PaymentFee,
	}, nil
}

func (fb *FakeBackend) FeeReserve(amount uint64) uint64 {
	return fb.Reserve
}

func createFakeInvoice(amount uint64) (string, string, string, error) {
	var random [32]byte
	_, err := rand.Read(random[:])
	if err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description("test"),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
