// Package venue wraps the prediction-market venue's Data API and
// order-book API behind a typed client, and implements the venue's
// two-layer authentication scheme.
package venue

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"copytrader/internal/config"
	"copytrader/pkg/types"
)

// Credentials holds the L2 API key triplet returned by the derive-api-key
// endpoint. These sign every order request via HMAC.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Signer handles two layers of venue authentication:
//
//   - L1 (EIP-712): used only once, to derive L2 API keys by signing a
//     typed-data "ClobAuth" message that proves wallet ownership.
//   - L2 (HMAC-SHA256): used for every order request, signing
//     "timestamp + method + path [+ body]" with the derived API secret.
//
// funderAddress may differ from address when trading through a proxy wallet.
type Signer struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       types.SignatureType
	creds         Credentials

	builderKey    string
	builderSecret string
}

// NewSigner builds a Signer from wallet configuration.
func NewSigner(cfg config.Config) (*Signer, error) {
	keyHex := cfg.Wallet.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	var funder common.Address
	if cfg.Wallet.FunderAddress != "" {
		funder = common.HexToAddress(cfg.Wallet.FunderAddress)
	} else {
		funder = address
	}

	return &Signer{
		privateKey:    privateKey,
		address:       address,
		funderAddress: funder,
		chainID:       big.NewInt(int64(cfg.Wallet.ChainID)),
		sigType:       types.SignatureType(cfg.Wallet.SignatureType),
		creds: Credentials{
			ApiKey:     cfg.API.ApiKey,
			Secret:     cfg.API.Secret,
			Passphrase: cfg.API.Passphrase,
		},
		builderKey:    cfg.API.BuilderKey,
		builderSecret: cfg.API.BuilderSecret,
	}, nil
}

// Address returns the signer's EOA address.
func (s *Signer) Address() common.Address { return s.address }

// FunderAddress returns the wallet that actually funds and owns orders.
func (s *Signer) FunderAddress() common.Address { return s.funderAddress }

// HasL2Credentials reports whether L2 API credentials are already configured.
func (s *Signer) HasL2Credentials() bool {
	return s.creds.ApiKey != "" && s.creds.Secret != "" && s.creds.Passphrase != ""
}

// SetCredentials installs L2 API credentials, typically after DeriveApiCredentials.
func (s *Signer) SetCredentials(creds Credentials) {
	s.creds = creds
}

// HasBuilderCredentials reports whether optional builder HMAC credentials
// should be attached to order requests.
func (s *Signer) HasBuilderCredentials() bool {
	return s.builderKey != "" && s.builderSecret != ""
}

// L1Headers produces headers for the L1-authenticated derive-api-key endpoint.
func (s *Signer) L1Headers(nonce int) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := s.signClobAuth(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign clob auth: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":   s.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.Itoa(nonce),
	}, nil
}

// L2Headers produces headers for an L2-authenticated order request.
func (s *Signer) L2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := s.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	headers := map[string]string{
		"POLY_ADDRESS":    s.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    s.creds.ApiKey,
		"POLY_PASSPHRASE": s.creds.Passphrase,
	}
	if s.HasBuilderCredentials() {
		headers["POLY_BUILDER_KEY"] = s.builderKey
		headers["POLY_BUILDER_SECRET"] = s.builderSecret
	}
	return headers, nil
}

func (s *Signer) signClobAuth(timestamp string, nonce int) (string, error) {
	sig, err := s.signTypedData(
		&apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   s.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message attests that I control the given wallet",
		},
		"ClobAuth",
	)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	return "0x" + common.Bytes2Hex(sig), nil
}

func (s *Signer) signTypedData(
	domain *apitypes.TypedDataDomain,
	typesDef apitypes.Types,
	message apitypes.TypedDataMessage,
	primaryType string,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

func (s *Signer) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(s.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// SignOrder builds the on-chain order payload for a single GTC order:
// maker/taker amounts, maker and signer addresses, side and signature type.
// It computes no EIP-712 order signature: Salt and Signature are left empty.
func (s *Signer) SignOrder(order types.TradeOrder) types.SignedOrder {
	tick := order.TickSize
	if tick == "" {
		tick = types.Tick001
	}
	makerAmt, takerAmt := priceToAmounts(order.LimitPrice, order.Shares, order.Side, tick)

	so := types.SignedOrder{
		Maker:         s.funderAddress.Hex(),
		Signer:        s.address.Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.AssetID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Side:          order.Side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: s.sigType,
	}
	return so
}

// priceToAmounts converts a human-readable price and size to makerAmount
// and takerAmount big.Int values scaled to 6 decimals (USDC).
//
// For BUY: the signer pays makerAmount USDC, receives takerAmount tokens.
// For SELL: the signer gives makerAmount tokens, receives takerAmount USDC.
func priceToAmounts(price, size float64, side types.Side, tickSize types.TickSize) (makerAmt, takerAmt *big.Int) {
	amtDecimals := tickSize.AmountDecimals()
	scale := new(big.Float).SetFloat64(1e6)

	sizeRounded := roundDown(size, 2)

	switch side {
	case types.BUY:
		cost := roundDown(sizeRounded*price, amtDecimals)
		makerF := new(big.Float).Mul(new(big.Float).SetFloat64(cost), scale)
		makerAmt, _ = makerF.Int(nil)
		takerF := new(big.Float).Mul(new(big.Float).SetFloat64(sizeRounded), scale)
		takerAmt, _ = takerF.Int(nil)
	case types.SELL:
		makerF := new(big.Float).Mul(new(big.Float).SetFloat64(sizeRounded), scale)
		makerAmt, _ = makerF.Int(nil)
		revenue := roundDown(sizeRounded*price, amtDecimals)
		takerF := new(big.Float).Mul(new(big.Float).SetFloat64(revenue), scale)
		takerAmt, _ = takerF.Int(nil)
	}

	return makerAmt, takerAmt
}

func roundDown(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return float64(int64(val*pow)) / pow
}
