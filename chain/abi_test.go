package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestContractABIParses(t *testing.T) {
	abi := ContractABI()

	wantEvents := []string{
		"PacketForged", "PacketOpened", "PromptContentPublished",
		"ImageRequested", "ImageContentPublished", "ImageDestroyed",
		"PacketTransferred", "PromptTransferred", "CardTransferred",
		"UpdateListingPacket", "UpdateListingPrompt", "UpdateListingImage",
		"WillToBuyPacket", "WillToBuyPrompt", "WillToBuyImage",
	}
	for _, name := range wantEvents {
		if _, ok := abi.Events[name]; !ok {
			t.Errorf("missing event %q", name)
		}
	}

	wantMethods := []string{
		"transferPacket", "transferPrompt", "transferCard",
		"refund", "promptMinted", "imageMinted",
	}
	for _, name := range wantMethods {
		if _, ok := abi.Methods[name]; !ok {
			t.Errorf("missing method %q", name)
		}
	}
}

func TestPackSettlementCalls(t *testing.T) {
	abi := ContractABI()
	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	seller := common.HexToAddress("0x2222222222222222222222222222222222222222")

	cases := []struct {
		method string
		args   []any
	}{
		{"transferPacket", []any{buyer, seller, uint32(7), big.NewInt(100)}},
		{"transferPrompt", []any{buyer, seller, uint32(9), big.NewInt(100)}},
		{"transferCard", []any{buyer, seller, big.NewInt(12345), big.NewInt(100)}},
		{"refund", []any{buyer, big.NewInt(55)}},
		{"promptMinted", []any{big.NewInt(99), uint32(4), buyer}},
		{"imageMinted", []any{big.NewInt(99), big.NewInt(12345), buyer}},
	}
	for _, tc := range cases {
		data, err := abi.Pack(tc.method, tc.args...)
		if err != nil {
			t.Fatalf("pack %s: %v", tc.method, err)
		}
		if len(data) < 4 {
			t.Fatalf("pack %s: calldata too short", tc.method)
		}
	}
}

func TestEventTopicsAreDistinct(t *testing.T) {
	seen := map[common.Hash]string{}
	for name, def := range ContractABI().Events {
		if prev, dup := seen[def.ID]; dup {
			t.Fatalf("events %s and %s share topic %s", prev, name, def.ID.Hex())
		}
		seen[def.ID] = name
	}
}
