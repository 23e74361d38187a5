package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"rafflemarkets/internal/models"
)

const factoryABIJSON = `[
	{"name":"createMarket","type":"function","inputs":[
		{"name":"seasonId","type":"uint256"},
		{"name":"player","type":"address"},
		{"name":"marketType","type":"uint8"},
		{"name":"probabilityBps","type":"uint256"}
	],"outputs":[{"name":"conditionId","type":"bytes32"},{"name":"market","type":"address"}]},
	{"name":"marketFor","type":"function","inputs":[
		{"name":"seasonId","type":"uint256"},
		{"name":"player","type":"address"},
		{"name":"marketType","type":"uint8"}
	],"outputs":[{"name":"","type":"address"}]}
]`

var factoryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		panic("factory abi parse: " + err.Error())
	}
	factoryABI = parsed
}

// MarketTypeIndex maps the registry's market type enum onto the factory's
// uint8 argument. Values mirror the contract's MarketType enum order.
func MarketTypeIndex(marketType string) (uint8, bool) {
	switch marketType {
	case models.MarketTypeWinnerPrediction:
		return 0, true
	case models.MarketTypePositionSize:
		return 1, true
	case models.MarketTypeBehavioral:
		return 2, true
	case models.MarketTypeTotalTickets:
		return 3, true
	default:
		return 0, false
	}
}

// MarketTypeName is the inverse mapping, used when decoding factory logs.
func MarketTypeName(index uint8) (string, bool) {
	switch index {
	case 0:
		return models.MarketTypeWinnerPrediction, true
	case 1:
		return models.MarketTypePositionSize, true
	case 2:
		return models.MarketTypeBehavioral, true
	case 3:
		return models.MarketTypeTotalTickets, true
	default:
		return "", false
	}
}

// CreationResult reports a confirmed market-creation transaction.
type CreationResult struct {
	TxHash        string
	BlockNumber   uint64
	GasUsed       uint64
	ConditionID   string
	MarketAddress string
}

// CreateMarket submits the factory creation call and waits for confirmation.
// The gas ceiling is checked first; ErrGasTooHigh, ErrMarketExists and
// ErrUnauthorized are returned as distinguishable classes so the reconciler
// can retry, no-op or abort respectively.
func (c *Client) CreateMarket(ctx context.Context, seasonID uint64, player string, marketType string, probabilityBps int) (*CreationResult, error) {
	if c == nil || c.eth == nil {
		return nil, ErrNotConfigured
	}
	if c.cfg.FactoryAddress == "" || c.cfg.PrivateKey == "" {
		return nil, ErrNotConfigured
	}
	typeIdx, ok := MarketTypeIndex(marketType)
	if !ok {
		return nil, fmt.Errorf("unknown market type %q", marketType)
	}

	gasPrice, err := c.CheckGasCeiling(ctx)
	if err != nil {
		return nil, err
	}

	playerAddr := common.HexToAddress(player)
	callData, err := factoryABI.Pack("createMarket",
		new(big.Int).SetUint64(seasonID),
		playerAddr,
		typeIdx,
		big.NewInt(int64(probabilityBps)),
	)
	if err != nil {
		return nil, fmt.Errorf("pack createMarket: %w", err)
	}

	keyHex := strings.TrimPrefix(c.cfg.PrivateKey, "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	factoryAddr := common.HexToAddress(c.cfg.FactoryAddress)
	gasLimit := c.cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 500_000
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &factoryAddr,
		Value:    big.NewInt(0),
		Data:     callData,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(c.cfg.ChainID)), key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		// Nodes that simulate before accepting surface the revert reason here.
		if classified := classifyRevert(err.Error()); classified != nil {
			return nil, classified
		}
		return nil, fmt.Errorf("send tx: %w", err)
	}

	confirmTimeout := c.cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}
	receiptCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	receipt, err := c.WaitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("confirm tx %s: %w", signed.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := c.revertReason(ctx, from, factoryAddr, callData, receipt.BlockNumber)
		if classified := classifyRevert(reason); classified != nil {
			return nil, classified
		}
		return nil, fmt.Errorf("createMarket reverted: %s (tx %s)", reason, signed.Hash().Hex())
	}

	result := &CreationResult{
		TxHash:      signed.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	fillCreationOutputs(result, receipt)

	if c.logger != nil {
		c.logger.Info("market creation confirmed",
			zap.Uint64("season_id", seasonID),
			zap.String("player", strings.ToLower(player)),
			zap.String("market_type", marketType),
			zap.String("tx", result.TxHash),
			zap.Uint64("gas_used", result.GasUsed),
		)
	}
	return result, nil
}

// MarketFor reads the factory's registry view; a zero address means no
// market has been created on-chain for the key.
func (c *Client) MarketFor(ctx context.Context, seasonID uint64, player string, marketType string) (string, error) {
	if c == nil || c.eth == nil || c.cfg.FactoryAddress == "" {
		return "", ErrNotConfigured
	}
	typeIdx, ok := MarketTypeIndex(marketType)
	if !ok {
		return "", fmt.Errorf("unknown market type %q", marketType)
	}
	data, err := factoryABI.Pack("marketFor", new(big.Int).SetUint64(seasonID), common.HexToAddress(player), typeIdx)
	if err != nil {
		return "", err
	}
	to := common.HexToAddress(c.cfg.FactoryAddress)
	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("call marketFor: %w", err)
	}
	if len(res) < 32 {
		return "", fmt.Errorf("marketFor result length %d", len(res))
	}
	addr := common.BytesToAddress(res[12:32])
	if addr == (common.Address{}) {
		return "", nil
	}
	return strings.ToLower(addr.Hex()), nil
}

// revertReason replays the failed call at the receipt's block to extract the
// contract's revert string. Best-effort: an empty string is a valid answer.
func (c *Client) revertReason(ctx context.Context, from, to common.Address, callData []byte, blockNumber *big.Int) string {
	msg := ethereum.CallMsg{From: from, To: &to, Data: callData}
	_, err := c.eth.CallContract(ctx, msg, blockNumber)
	if err == nil {
		return ""
	}
	return err.Error()
}

// classifyRevert maps a revert message onto the error classes the reconciler
// distinguishes. Unrecognized messages return nil and stay generic.
func classifyRevert(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "market exists"),
		strings.Contains(lower, "already exists"),
		strings.Contains(lower, "already created"):
		return ErrMarketExists
	case strings.Contains(lower, "missing role"),
		strings.Contains(lower, "accesscontrol"),
		strings.Contains(lower, "not authorized"),
		strings.Contains(lower, "caller is not"):
		return ErrUnauthorized
	default:
		return nil
	}
}

// fillCreationOutputs pulls conditionId and the market address out of the
// factory's MarketCreated log when present in the receipt. Data layout:
// marketType | conditionId | market | probabilityBps, 32 bytes each.
func fillCreationOutputs(result *CreationResult, receipt *types.Receipt) {
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != SigMarketCreated {
			continue
		}
		if len(lg.Data) >= 128 {
			result.ConditionID = "0x" + hex.EncodeToString(lg.Data[32:64])
			result.MarketAddress = strings.ToLower(common.BytesToAddress(lg.Data[76:96]).Hex())
		}
		return
	}
}
