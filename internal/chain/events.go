package chain

import "github.com/ethereum/go-ethereum/crypto"

// Event signature hashes for the contracts the watcher subscribes to. The
// watcher matches topic[0] against these and the factory caller uses
// SigMarketCreated to pull outputs from its own receipt.
var (
	// PositionUpdated(uint256 indexed seasonId, address indexed player, uint256 oldTickets, uint256 newTickets, uint256 totalTickets, uint256 probabilityBps)
	SigPositionUpdated = crypto.Keccak256Hash([]byte("PositionUpdated(uint256,address,uint256,uint256,uint256,uint256)"))

	// MarketCreated(uint256 indexed seasonId, address indexed player, uint8 marketType, bytes32 conditionId, address market, uint256 probabilityBps)
	SigMarketCreated = crypto.Keccak256Hash([]byte("MarketCreated(uint256,address,uint8,bytes32,address,uint256)"))

	// ProbabilityUpdated(uint256 indexed seasonId, address indexed player, uint256 oldProbabilityBps, uint256 newProbabilityBps)
	SigProbabilityUpdated = crypto.Keccak256Hash([]byte("ProbabilityUpdated(uint256,address,uint256,uint256)"))

	// TradeExecuted(address indexed trader, uint256 collateralAmount, bool isLong)
	SigTradeExecuted = crypto.Keccak256Hash([]byte("TradeExecuted(address,uint256,bool)"))

	// PriceUpdated(uint256 indexed marketId, uint256 raffleBps, uint256 marketBps, uint256 hybridBps, uint256 timestamp)
	SigPriceUpdated = crypto.Keccak256Hash([]byte("PriceUpdated(uint256,uint256,uint256,uint256,uint256)"))
)
