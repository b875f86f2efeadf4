package command

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// IntentKind identifies the collaborator request an intent represents.
type IntentKind string

const (
	IntentCustodyTransfer IntentKind = "custody.transfer"
	IntentPoolMint        IntentKind = "pool.mint"
	IntentPoolReconcile   IntentKind = "pool.reconcile_after_liquidation"
	IntentRewardIncrease  IntentKind = "reward.increase_balance"
	IntentRewardDecrease  IntentKind = "reward.decrease_balance"
)

// TransferReason tells a custody vault why collateral leaves it.
type TransferReason string

const (
	ReasonWithdraw  TransferReason = "withdraw"
	ReasonRedeem    TransferReason = "redeem"
	ReasonLiquidate TransferReason = "liquidate"
)

// intentNamespace seeds deterministic intent IDs.
var intentNamespace = uuid.MustParse("3b0c4f8e-7d54-5a7e-9d0a-6a0f6c2d1e90")

// Intent is an outbound request to a collaborator. Intents are staged with the
// ledger mutation that produced them and dispatched only after commit.
type Intent struct {
	ID       uuid.UUID `json:"id"`
	Sequence int64     `json:"sequence"`
	Index    int       `json:"index"`

	Kind   IntentKind     `json:"kind"`
	Target ledger.Address `json:"target"`

	Minter     ledger.Address `json:"minter,omitempty"`
	Recipient  ledger.Address `json:"recipient,omitempty"`
	Asset      ledger.AssetID `json:"asset,omitempty"`
	Amount     fpmath.Dec     `json:"amount"`
	PreBalance *fpmath.Dec    `json:"pre_balance,omitempty"`
	Reason     TransferReason `json:"reason,omitempty"`
}

func (i Intent) String() string {
	return fmt.Sprintf("%s->%s(%s %s)", i.Kind, i.Target, i.Asset, i.Amount)
}

// CustodyTransfer asks a custody vault to send amount of its asset to recipient.
func CustodyTransfer(custody, recipient ledger.Address, asset ledger.AssetID, amount fpmath.Dec, reason TransferReason) Intent {
	return Intent{Kind: IntentCustodyTransfer, Target: custody, Recipient: recipient, Asset: asset, Amount: amount, Reason: reason}
}

func RewardIncrease(book, minter ledger.Address, asset ledger.AssetID, amount fpmath.Dec) Intent {
	return Intent{Kind: IntentRewardIncrease, Target: book, Minter: minter, Asset: asset, Amount: amount}
}

func RewardDecrease(book, minter ledger.Address, asset ledger.AssetID, amount fpmath.Dec) Intent {
	return Intent{Kind: IntentRewardDecrease, Target: book, Minter: minter, Asset: asset, Amount: amount}
}

func PoolMint(pool, minter ledger.Address, amount fpmath.Dec) Intent {
	return Intent{Kind: IntentPoolMint, Target: pool, Minter: minter, Amount: amount}
}

// PoolReconcile lets the pool compute the repaid amount as its current
// stable balance minus preBalance once liquidation settlement has landed.
func PoolReconcile(pool, minter ledger.Address, preBalance fpmath.Dec) Intent {
	return Intent{Kind: IntentPoolReconcile, Target: pool, Minter: minter, PreBalance: &preBalance}
}

// Stamp assigns sequence, index and a deterministic ID to each intent.
func Stamp(intents []Intent, sequence int64) []Intent {
	for i := range intents {
		intents[i].Sequence = sequence
		intents[i].Index = i
		intents[i].ID = uuid.NewSHA1(intentNamespace, []byte(fmt.Sprintf("%d:%d", sequence, i)))
	}
	return intents
}
