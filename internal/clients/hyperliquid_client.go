package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidClient wraps the SDK exchange handle. Only its Info API is used for prices.
type HyperliquidClient struct {
	exchange *hyperliquid.Exchange
}

// NewHyperliquidClient builds a client for baseURL. Market data needs no account,
// so an empty key is replaced with a throwaway one.
func NewHyperliquidClient(ctx context.Context, privateKeyHex, baseURL string) (*HyperliquidClient, error) {
	privateKey, err := hyperliquidKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pub).Hex()

	ex := hyperliquid.NewExchange(
		ctx,
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidClient{exchange: ex}, nil
}

func hyperliquidKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	if hexKey == "" {
		key, err := crypto.GenerateKey()
		return key, errors.Wrap(err, "generate market data key")
	}

	key, err := crypto.HexToECDSA(hexKey)
	return key, errors.Wrap(err, "decode hyperliquid private key")
}

// Info returns the read-only API handle.
func (c *HyperliquidClient) Info() *hyperliquid.Info { return c.exchange.Info() }
