package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// Credentials are the L2 trading credentials returned by the trading-auth
// exchange. They authenticate follow-up backend calls with HMAC headers.
type Credentials struct {
	Key        string
	Secret     string // base64
	Passphrase string
}

// CredentialsFromTradingAuth extracts the CLOB triple from a trading-auth
// record. ok is false when the record is incomplete.
func CredentialsFromTradingAuth(ta *domain.TradingAuth) (Credentials, bool) {
	if ta == nil || !ta.Complete() {
		return Credentials{}, false
	}
	return Credentials{Key: ta.APIKey, Secret: ta.APISecret, Passphrase: ta.APIPassphrase}, true
}

// L2Headers returns the POLY_* headers for a request signed now.
func (c Credentials) L2Headers(address, method, path, body string) map[string]string {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is L2Headers with a caller-supplied Unix timestamp. The
// signature is base64url(HMAC-SHA256(base64decode(secret), ts+method+path+body)).
func (c Credentials) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secret, err := base64.URLEncoding.DecodeString(c.Secret)
	if err != nil {
		if secret, err = base64.StdEncoding.DecodeString(c.Secret); err != nil {
			secret = []byte(c.Secret)
		}
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path + body))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
	}
}

// String redacts everything but a short key prefix.
func (c Credentials) String() string {
	key := "****"
	if len(c.Key) > 4 {
		key = c.Key[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=****, passphrase=****}", key)
}
