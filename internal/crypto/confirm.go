package crypto

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// WalletSigner is the capability set the onboarding flow needs from a wallet.
type WalletSigner interface {
	Address() common.Address
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// ConfirmingWallet asks the operator before every signature. Anything other
// than "y" or "yes" rejects the request with domain.ErrUserRejected.
type ConfirmingWallet struct {
	inner WalletSigner
	in    *bufio.Reader
	out   io.Writer
	mu    sync.Mutex
}

// NewConfirmingWallet wraps inner, prompting on out and reading answers from in.
func NewConfirmingWallet(inner WalletSigner, in io.Reader, out io.Writer) *ConfirmingWallet {
	return &ConfirmingWallet{inner: inner, in: bufio.NewReader(in), out: out}
}

// Address returns the wrapped wallet's address.
func (w *ConfirmingWallet) Address() common.Address {
	return w.inner.Address()
}

// SignTypedData prompts with the primary type and domain before signing.
func (w *ConfirmingWallet) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	prompt := fmt.Sprintf("Sign %s for %q as %s?", td.PrimaryType, td.Domain.Name, w.inner.Address().Hex())
	if err := w.confirm(prompt); err != nil {
		return nil, err
	}
	return w.inner.SignTypedData(ctx, td)
}

// SignMessage prompts with the hex message before signing.
func (w *ConfirmingWallet) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	prompt := fmt.Sprintf("Sign message %s as %s?", hexutil.Encode(msg), w.inner.Address().Hex())
	if err := w.confirm(prompt); err != nil {
		return nil, err
	}
	return w.inner.SignMessage(ctx, msg)
}

func (w *ConfirmingWallet) confirm(prompt string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fmt.Fprintf(w.out, "%s [y/N]: ", prompt)
	line, err := w.in.ReadString('\n')
	if err != nil && line == "" {
		return domain.ErrUserRejected
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return domain.ErrUserRejected
	}
}
