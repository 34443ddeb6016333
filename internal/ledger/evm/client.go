// Package evm drives the escrow contract over JSON-RPC. It is the production
// implementation of the ledger interfaces; tests elsewhere use stubs.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
)

// Medium selects how payments ride ledger calls.
const (
	MediumNative = "native" // value attached to the call itself
	MediumERC20  = "erc20"  // contract pulls tokens via prior approval
)

// Config wires the client to a deployed escrow contract.
type Config struct {
	RPC      string
	ChainID  int64
	Contract string
	Token    string // ERC-20 address; empty under native medium
	Medium   string
}

// Client implements ledger.Reader, ledger.Writer, ledger.Simulator and, for
// ERC-20 media, ledger.TokenBackend.
type Client struct {
	eth      *ethclient.Client
	escrow   abi.ABI
	erc20    abi.ABI
	contract common.Address
	token    common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	medium   string

	pollInterval time.Duration
}

// Dial connects to the chain and binds the contract.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPC, err)
	}

	escrow, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	c := &Client{
		eth:          eth,
		escrow:       escrow,
		erc20:        erc20,
		contract:     common.HexToAddress(cfg.Contract),
		chainID:      big.NewInt(cfg.ChainID),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		medium:       cfg.Medium,
		pollInterval: 2 * time.Second,
	}
	if cfg.Medium == MediumERC20 {
		if cfg.Token == "" {
			return nil, errors.New("erc20 medium requires a token address")
		}
		c.token = common.HexToAddress(cfg.Token)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Sender is the operator address transactions are signed with.
func (c *Client) Sender() string {
	return c.from.Hex()
}

// --- reads ---

func (c *Client) GetListing(ctx context.Context, listingID uint64) (*booking.Listing, error) {
	out, err := c.call(ctx, "getListing", new(big.Int).SetUint64(listingID))
	if err != nil {
		return nil, err
	}
	return &booking.Listing{
		ListingID:       listingID,
		Owner:           out[0].(common.Address).Hex(),
		RentPrice:       out[1].(*big.Int),
		RentSecurity:    out[2].(*big.Int),
		BookingPrice:    out[3].(*big.Int),
		BookingSecurity: out[4].(*big.Int),
		Active:          out[5].(bool),
		FetchedAt:       time.Now(),
	}, nil
}

func (c *Client) GetReservation(ctx context.Context, bookingID uint64) (*booking.Snapshot, error) {
	out, err := c.call(ctx, "getReservation", new(big.Int).SetUint64(bookingID))
	if err != nil {
		return nil, err
	}
	return snapshotFromOutputs(out), nil
}

func (c *Client) GetReservationByListing(ctx context.Context, listingID uint64) (*booking.Snapshot, error) {
	out, err := c.call(ctx, "getReservationByListing", new(big.Int).SetUint64(listingID))
	if err != nil {
		return nil, err
	}
	snap := snapshotFromOutputs(out)
	if snap.BookingID == 0 {
		// No active reservation for this listing.
		return nil, nil
	}
	return snap, nil
}

func (c *Client) IsListingActive(ctx context.Context, listingID uint64) (bool, error) {
	out, err := c.call(ctx, "isListingActive", new(big.Int).SetUint64(listingID))
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func snapshotFromOutputs(out []any) *booking.Snapshot {
	expires := out[6].(*big.Int).Int64()
	snap := &booking.Snapshot{
		BookingID:      out[0].(*big.Int).Uint64(),
		ListingID:      out[1].(*big.Int).Uint64(),
		OriginalPayer:  out[2].(common.Address).Hex(),
		Owner:          out[3].(common.Address).Hex(),
		Deposit:        out[4].(*big.Int),
		Price:          out[5].(*big.Int),
		State:          booking.State(out[7].(uint8)),
		IsRerent:       out[8].(bool),
		Renter:         out[9].(common.Address).Hex(),
		TotalPaid:      out[10].(*big.Int),
		OwnerShareBps:  uint32(out[11].(*big.Int).Uint64()),
		BrokerShareBps: uint32(out[12].(*big.Int).Uint64()),
		FetchedAt:      time.Now(),
	}
	if expires > 0 {
		snap.ExpiresAt = time.Unix(expires, 0)
	}
	if snap.Renter == (common.Address{}).Hex() {
		snap.Renter = ""
	}
	return snap
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.escrow.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := c.escrow.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// --- writes ---

// pricingTuple matches the rentListing updateParams tuple components.
type pricingTuple struct {
	RentPrice       *big.Int
	RentSecurity    *big.Int
	BookingPrice    *big.Int
	BookingSecurity *big.Int
}

func (c *Client) packIntent(intent *booking.Intent) ([]byte, error) {
	bookingID := new(big.Int).SetUint64(intent.BookingID)
	listingID := new(big.Int).SetUint64(intent.ListingID)

	switch intent.Method {
	case booking.MethodPrebook:
		return c.escrow.Pack("prebook", listingID, intent.Amount)
	case booking.MethodBookDirectly:
		return c.escrow.Pack("bookDirectly", listingID, intent.Amount)
	case booking.MethodFinalizeBooking:
		return c.escrow.Pack("finalizeBooking", bookingID, intent.Amount)
	case booking.MethodRentListing:
		p := intent.Pricing
		if p == nil {
			return nil, errors.New("rentListing intent without pricing tuple")
		}
		return c.escrow.Pack("rentListing", bookingID, pricingTuple{
			RentPrice:       p.RentPrice,
			RentSecurity:    p.RentSecurity,
			BookingPrice:    p.BookingPrice,
			BookingSecurity: p.BookingSecurity,
		})
	case booking.MethodCancelBooking:
		return c.escrow.Pack("cancelBooking", bookingID)
	case booking.MethodUnlockRoom:
		return c.escrow.Pack("unlockRoom", bookingID)
	case booking.MethodRaiseDispute:
		return c.escrow.Pack("raiseDispute", bookingID)
	case booking.MethodSubmitEvidence:
		return c.escrow.Pack("submitEvidence", bookingID, intent.ContentRef)
	}
	return nil, fmt.Errorf("unknown intent method %q", intent.Method)
}

// attachedValue is the native value for the transaction. Under the ERC-20
// medium the contract pulls tokens itself, so nothing rides the call.
func (c *Client) attachedValue(intent *booking.Intent) *big.Int {
	if c.medium == MediumERC20 || intent.Value == nil {
		return big.NewInt(0)
	}
	return intent.Value
}

func (c *Client) Simulate(ctx context.Context, intent *booking.Intent) error {
	data, err := c.packIntent(intent)
	if err != nil {
		return err
	}
	msg := ethereum.CallMsg{
		From:  c.from,
		To:    &c.contract,
		Value: c.attachedValue(intent),
		Data:  data,
	}
	if _, err := c.eth.CallContract(ctx, msg, nil); err != nil {
		raw := revertReason(err)
		if raw == "" {
			raw = err.Error()
		}
		return &ledger.RevertError{Reason: ledger.ClassifyReason(raw), Raw: raw}
	}
	return nil
}

func (c *Client) Submit(ctx context.Context, intent *booking.Intent) (*ledger.TxHandle, error) {
	data, err := c.packIntent(intent)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, c.contract, c.attachedValue(intent), data)
}

func (c *Client) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*ledger.TxHandle, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Value: value, Data: data})
	if err != nil {
		raw := revertReason(err)
		if raw != "" {
			return nil, &ledger.RevertError{Reason: ledger.ClassifyReason(raw), Raw: raw}
		}
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	log.Printf("[LEDGER] Submitted tx %s (nonce %d, gas %d)", signed.Hash().Hex(), nonce, gas)
	return &ledger.TxHandle{Hash: signed.Hash().Hex()}, nil
}

// Wait polls for the receipt until the transaction settles or ctx expires.
func (c *Client) Wait(ctx context.Context, h *ledger.TxHandle) (*ledger.Receipt, error) {
	hash := common.HexToHash(h.Hash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			out := &ledger.Receipt{
				Hash:        h.Hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}
			if receipt.Status == types.ReceiptStatusSuccessful {
				out.Status = ledger.TxConfirmed
			} else {
				out.Status = ledger.TxReverted
				out.Reason = c.replayReason(ctx, hash, receipt.BlockNumber)
			}
			return out, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", h.Hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayReason re-executes a reverted transaction as a call at its block to
// recover the revert string. Best effort only.
func (c *Client) replayReason(ctx context.Context, hash common.Hash, block *big.Int) string {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{From: c.from, To: tx.To(), Value: tx.Value(), Data: tx.Data()}
	if _, err := c.eth.CallContract(ctx, msg, block); err != nil {
		if raw := revertReason(err); raw != "" {
			return ledger.ClassifyReason(raw)
		}
	}
	return ""
}

// --- token backend (ERC-20 medium only) ---

func (c *Client) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(addr))
	if err != nil {
		return nil, err
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	out, err := c.erc20.Unpack("balanceOf", raw)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	data, err := c.erc20.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	out, err := c.erc20.Unpack("allowance", raw)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) Approve(ctx context.Context, spender string, amount *big.Int) (*ledger.TxHandle, error) {
	data, err := c.erc20.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, c.token, big.NewInt(0), data)
}

// revertReason extracts the revert string a node attached to an error, either
// from structured error data or from the message text.
func revertReason(err error) string {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if b, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(b); unpackErr == nil {
					return reason
				}
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		rest := strings.TrimPrefix(msg[i:], "execution reverted")
		rest = strings.TrimPrefix(rest, ":")
		return strings.TrimSpace(rest)
	}
	return ""
}
