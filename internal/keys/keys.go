// Package keys implements chain.KeyProvider by loading wallet
// identity and key material from environment variables, grounded on
// original_source/utils/secure_wallet_loader.py's env-scanning
// convention: every WALLET_<id>_PRIVATE_KEY defines one wallet, with
// WALLET_<id>_NAME/_ENABLED/_MAX_ORDERS as siblings. Private key
// bytes never leave this package — not even to the logger.
package keys

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
)

const (
	prefix          = "WALLET_"
	privateKeySuffix = "_PRIVATE_KEY"
	defaultMaxOrders = 5
)

// EnvProvider is a chain.KeyProvider backed by the process environment.
type EnvProvider struct {
	mu      sync.RWMutex
	secrets map[string][]byte // walletID -> private key bytes
}

// NewEnvProvider constructs an EnvProvider with no loaded secrets;
// call LoadWallets to populate it.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{secrets: make(map[string][]byte)}
}

// LoadWallets scans the environment once for WALLET_<id>_PRIVATE_KEY
// entries, builds one domain.WalletConfig per id found (sorted by id
// for deterministic ordering), and filters out disabled wallets.
// Markets is left empty; config.Config.Merge fills it in from the
// config file's wallets.<walletId>.markets[] section.
func (p *EnvProvider) LoadWallets(ctx context.Context) ([]domain.WalletConfig, error) {
	ids := make(map[string]struct{})
	for _, kv := range os.Environ() {
		k := kv[:strings.IndexByte(kv, '=')]
		if !strings.HasPrefix(k, prefix) || !strings.HasSuffix(k, privateKeySuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, prefix), privateKeySuffix)
		if id == "" {
			continue
		}
		ids[id] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.WalletConfig
	for _, id := range sorted {
		walletID := "wallet_" + id
		privateKey := strings.TrimSpace(os.Getenv(prefix + id + privateKeySuffix))
		if privateKey == "" {
			continue
		}
		enabled := true
		if v := strings.TrimSpace(os.Getenv(prefix + id + "_ENABLED")); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("%s%s_ENABLED: invalid bool %q", prefix, id, v)))
			}
			enabled = b
		}
		maxOrders := defaultMaxOrders
		if v := strings.TrimSpace(os.Getenv(prefix + id + "_MAX_ORDERS")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("%s%s_MAX_ORDERS: invalid positive int %q", prefix, id, v)))
			}
			maxOrders = n
		}
		name := strings.TrimSpace(os.Getenv(prefix + id + "_NAME"))
		if name == "" {
			name = fmt.Sprintf("Wallet %s", id)
		}

		p.secrets[walletID] = []byte(privateKey)

		if !enabled {
			continue
		}
		out = append(out, domain.WalletConfig{
			WalletID:      walletID,
			Name:          name,
			Enabled:       enabled,
			MaxOpenOrders: maxOrders,
		})
	}

	if len(out) == 0 {
		return nil, errs.New("", errs.CodeConfig, errs.WithMessage("no enabled wallets found in WALLET_<id>_PRIVATE_KEY environment variables"))
	}
	return out, nil
}

// Address derives a deterministic, non-reversible identifier for a
// wallet's private key material. This is not a venue address
// derivation (that requires the venue's own curve/bech32 scheme,
// opaque to this engine per the chain boundary) — it exists so logs
// and the control-plane surface have a stable, key-safe handle.
func (p *EnvProvider) Address(walletID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.secrets[walletID]
	if !ok {
		return "", errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("unknown wallet %q", walletID)))
	}
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:20]), nil
}

// Sign produces an HMAC-SHA256 tag over payload keyed by the wallet's
// private key material. Real on-chain transaction signing (secp256k1
// over the venue's sign-doc encoding) belongs to the opaque
// ChainClient boundary this engine never implements directly; this
// method only satisfies chain.KeyProvider for the fake client and for
// components that need *a* deterministic, non-forgeable tag without
// depending on venue-specific signing.
func (p *EnvProvider) Sign(walletID string, payload []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.secrets[walletID]
	if !ok {
		return nil, errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("unknown wallet %q", walletID)))
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}
