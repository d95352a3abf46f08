package aggregate

// Package aggregate folds raw per-account balance records into the final
// holder view: duplicates summed, dust and malformed records dropped, output
// deterministically ordered so snapshot files diff cleanly between runs.

import (
	"sort"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/clients_api/solanarpc"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/log"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// Holder is one aggregated owner with its summed balance in raw token units.
type Holder struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// Result is the holders portion of a snapshot.
type Result struct {
	Holders             []Holder
	HolderCount         int
	TotalSupplyObserved uint64
}

// Options tunes filtering and the externally supplied supply adjustment.
type Options struct {
	MinTokenAmount   uint64
	BurnedAdjustment uint64
}

// Aggregate groups raw records by owner address, summing balances for
// duplicate addresses (pagination overlaps must not corrupt totals), drops
// zero-balance and below-minimum holders as well as records with malformed
// addresses, and sorts the survivors by descending balance (address ascending
// on ties). TotalSupplyObserved covers included holders only, plus the
// configured burned/locked adjustment.
func Aggregate(raw []solanarpc.HolderRecord, opts Options) Result {
	balances := make(map[string]uint64, len(raw))
	dropped := 0

	for _, record := range raw {
		if !validOwnerAddress(record.Address) {
			dropped++
			continue
		}
		balances[record.Address] += record.Balance
	}

	if dropped > 0 {
		log.LogWarn("Dropped malformed holder records", zap.Int("count", dropped))
	}

	holders := make([]Holder, 0, len(balances))
	var total uint64
	for address, balance := range balances {
		if balance == 0 || balance < opts.MinTokenAmount {
			continue
		}
		holders = append(holders, Holder{Address: address, Balance: balance})
		total += balance
	}

	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Balance != holders[j].Balance {
			return holders[i].Balance > holders[j].Balance
		}
		return holders[i].Address < holders[j].Address
	})

	return Result{
		Holders:             holders,
		HolderCount:         len(holders),
		TotalSupplyObserved: total + opts.BurnedAdjustment,
	}
}

// validOwnerAddress reports whether the address is a base58 rendering of a
// 32-byte public key.
func validOwnerAddress(address string) bool {
	decoded, err := base58.Decode(address)
	return err == nil && len(decoded) == 32
}
