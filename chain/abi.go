package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// contractJSON is the ABI fragment of the game contract this service
// consumes: the marketplace and minting events plus the settlement and
// oracle entry points. None of the event arguments are indexed, so every
// payload decodes from the log data alone.
const contractJSON = `[
  {"type":"event","name":"PacketForged","anonymous":false,"inputs":[
    {"name":"minter","type":"address","indexed":false},
    {"name":"packetId","type":"uint32","indexed":false}]},
  {"type":"event","name":"PacketOpened","anonymous":false,"inputs":[
    {"name":"opener","type":"address","indexed":false},
    {"name":"prompts","type":"uint32[]","indexed":false}]},
  {"type":"event","name":"PromptContentPublished","anonymous":false,"inputs":[
    {"name":"to","type":"address","indexed":false},
    {"name":"promptId","type":"uint32","indexed":false},
    {"name":"contentCid","type":"uint256","indexed":false},
    {"name":"rarity","type":"uint8","indexed":false}]},
  {"type":"event","name":"ImageRequested","anonymous":false,"inputs":[
    {"name":"creator","type":"address","indexed":false},
    {"name":"imageId","type":"uint256","indexed":false}]},
  {"type":"event","name":"ImageContentPublished","anonymous":false,"inputs":[
    {"name":"creator","type":"address","indexed":false},
    {"name":"imageId","type":"uint256","indexed":false},
    {"name":"contentCid","type":"uint256","indexed":false}]},
  {"type":"event","name":"ImageDestroyed","anonymous":false,"inputs":[
    {"name":"imageId","type":"uint256","indexed":false},
    {"name":"owner","type":"address","indexed":false}]},
  {"type":"event","name":"PacketTransferred","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":false},
    {"name":"seller","type":"address","indexed":false},
    {"name":"packetId","type":"uint32","indexed":false},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"PromptTransferred","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":false},
    {"name":"seller","type":"address","indexed":false},
    {"name":"promptId","type":"uint32","indexed":false},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"CardTransferred","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":false},
    {"name":"seller","type":"address","indexed":false},
    {"name":"imageId","type":"uint256","indexed":false},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"UpdateListingPacket","anonymous":false,"inputs":[
    {"name":"packetId","type":"uint32","indexed":false},
    {"name":"isListed","type":"bool","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"tokenOwner","type":"address","indexed":false}]},
  {"type":"event","name":"UpdateListingPrompt","anonymous":false,"inputs":[
    {"name":"promptId","type":"uint32","indexed":false},
    {"name":"isListed","type":"bool","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"tokenOwner","type":"address","indexed":false}]},
  {"type":"event","name":"UpdateListingImage","anonymous":false,"inputs":[
    {"name":"imageId","type":"uint256","indexed":false},
    {"name":"isListed","type":"bool","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"tokenOwner","type":"address","indexed":false}]},
  {"type":"event","name":"WillToBuyPacket","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":false},
    {"name":"seller","type":"address","indexed":false},
    {"name":"packetId","type":"uint32","indexed":false},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"WillToBuyPrompt","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":false},
    {"name":"seller","type":"address","indexed":false},
    {"name":"promptId","type":"uint32","indexed":false},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"WillToBuyImage","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":false},
    {"name":"seller","type":"address","indexed":false},
    {"name":"imageId","type":"uint256","indexed":false},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"function","name":"transferPacket","stateMutability":"nonpayable","inputs":[
    {"name":"buyer","type":"address"},
    {"name":"seller","type":"address"},
    {"name":"packetId","type":"uint32"},
    {"name":"value","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"transferPrompt","stateMutability":"nonpayable","inputs":[
    {"name":"buyer","type":"address"},
    {"name":"seller","type":"address"},
    {"name":"promptId","type":"uint32"},
    {"name":"value","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"transferCard","stateMutability":"nonpayable","inputs":[
    {"name":"buyer","type":"address"},
    {"name":"seller","type":"address"},
    {"name":"imageId","type":"uint256"},
    {"name":"value","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
    {"name":"buyer","type":"address"},
    {"name":"value","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"promptMinted","stateMutability":"nonpayable","inputs":[
    {"name":"contentCid","type":"uint256"},
    {"name":"promptId","type":"uint32"},
    {"name":"to","type":"address"}],"outputs":[]},
  {"type":"function","name":"imageMinted","stateMutability":"nonpayable","inputs":[
    {"name":"contentCid","type":"uint256"},
    {"name":"imageId","type":"uint256"},
    {"name":"to","type":"address"}],"outputs":[]}
]`

var (
	abiOnce   sync.Once
	parsedABI abi.ABI
)

// ContractABI returns the parsed game-contract ABI. Parsing a constant
// cannot fail after the first green build, so errors panic.
func ContractABI() abi.ABI {
	abiOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(contractJSON))
		if err != nil {
			panic("chain: parse embedded ABI: " + err.Error())
		}
		parsedABI = parsed
	})
	return parsedABI
}
