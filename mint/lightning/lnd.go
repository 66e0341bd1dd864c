package lightning

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	macaroon "gopkg.in/macaroon.v2"
)

const (
	InvoiceExpirySecs  = 600
	SendPaymentTimeout = 60
)

type LndConfig struct {
	GRPCHost string
	Cert     credentials.TransportCredentials
	Macaroon macaroons.MacaroonCredential
}

type LndClient struct {
	grpcClient   lnrpc.LightningClient
	routerClient routerrpc.RouterClient
}

// LndConfigFromPaths reads the tls cert and macaroon from disk.
func LndConfigFromPaths(host, certPath, macaroonPath string) (LndConfig, error) {
	creds, err := credentials.NewClientTLSFromFile(certPath, "")
	if err != nil {
		return LndConfig{}, fmt.Errorf("error reading tls cert: %v", err)
	}

	macaroonBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return LndConfig{}, fmt.Errorf("error reading macaroon: %v", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macaroonBytes); err != nil {
		return LndConfig{}, fmt.Errorf("error parsing macaroon: %v", err)
	}
	macarooncreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return LndConfig{}, fmt.Errorf("error setting macaroon creds: %v", err)
	}

	return LndConfig{
		GRPCHost: host,
		Cert:     creds,
		Macaroon: macarooncreds,
	}, nil
}

func SetupLndClient(config LndConfig) (*LndClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(config.Cert),
		grpc.WithPerRPCCredentials(config.Macaroon),
	}

	conn, err := grpc.NewClient(config.GRPCHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("error setting up grpc client: %v", err)
	}

	return &LndClient{
		grpcClient:   lnrpc.NewLightningClient(conn),
		routerClient: routerrpc.NewRouterClient(conn),
	}, nil
}

func (lnd *LndClient) ConnectionStatus() error {
	_, err := lnd.grpcClient.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
	return err
}

func (lnd *LndClient) CreateInvoice(amount uint64) (Invoice, error) {
	invoiceRequest := lnrpc.Invoice{
		Value:  int64(amount),
		Expiry: InvoiceExpirySecs,
	}

	addInvoiceResponse, err := lnd.grpcClient.AddInvoice(context.Background(), &invoiceRequest)
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: addInvoiceResponse.PaymentRequest,
		PaymentHash:    hex.EncodeToString(addInvoiceResponse.RHash),
		Amount:         amount,
	}
	return invoice, nil
}

func (lnd *LndClient) InvoiceStatus(hash string) (Invoice, error) {
	rHash, err := hex.DecodeString(hash)
	if err != nil {
		return Invoice{}, fmt.Errorf("invalid payment hash: %v", err)
	}

	lookupInvoiceResponse, err := lnd.grpcClient.LookupInvoice(context.Background(), &lnrpc.PaymentHash{RHash: rHash})
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: lookupInvoiceResponse.PaymentRequest,
		PaymentHash:    hash,
		Preimage:       hex.EncodeToString(lookupInvoiceResponse.RPreimage),
		Settled:        lookupInvoiceResponse.State == lnrpc.Invoice_SETTLED,
		Amount:         uint64(lookupInvoiceResponse.Value),
		Expiry:         uint64(lookupInvoiceResponse.Expiry),
	}
	return invoice, nil
}

func (lnd *LndClient) SendPayment(ctx context.Context, request string, amount uint64) (PaymentStatus, error) {
	sendPaymentRequest := routerrpc.SendPaymentRequest{
		PaymentRequest: request,
		TimeoutSeconds: SendPaymentTimeout,
		FeeLimitSat:    int64(lnd.FeeReserve(amount)),
	}

	stream, err := lnd.routerClient.SendPaymentV2(ctx, &sendPaymentRequest)
	if err != nil {
		return PaymentStatus{PaymentStatus: Failed}, err
	}

	for {
		payment, err := stream.Recv()
		if err != nil {
			// can't know the state of the payment here so leave it as pending
			return PaymentStatus{PaymentStatus: Pending}, err
		}

		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED:
			return PaymentStatus{
				Preimage:      payment.PaymentPreimage,
				PaymentStatus: Succeeded,
				PaymentFee:    uint64(payment.FeeSat),
			}, nil
		case lnrpc.Payment_FAILED:
			return PaymentStatus{PaymentStatus: Failed},
				errors.New(payment.FailureReason.String())
		}
	}
}

func (lnd *LndClient) OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error) {
	paymentHash, err := hex.DecodeString(hash)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("invalid payment hash: %v", err)
	}

	trackPaymentRequest := routerrpc.TrackPaymentRequest{
		PaymentHash:       paymentHash,
		NoInflightUpdates: true,
	}

	stream, err := lnd.routerClient.TrackPaymentV2(ctx, &trackPaymentRequest)
	if err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}

	payment, err := stream.Recv()
	if err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}

	switch payment.Status {
	case lnrpc.Payment_SUCCEEDED:
		return PaymentStatus{
			Preimage:      payment.PaymentPreimage,
			PaymentStatus: Succeeded,
			PaymentFee:    uint64(payment.FeeSat),
		}, nil
	case lnrpc.Payment_FAILED:
		return PaymentStatus{PaymentStatus: Failed},
			errors.New(payment.FailureReason.String())
	default:
		return PaymentStatus{PaymentStatus: Pending}, nil
	}
}

func (lnd *LndClient) FeeReserve(amount uint64) uint64 {
	// 1% of the amount to pay
	return uint64(math.Ceil(float64(amount) * 0.01))
}
