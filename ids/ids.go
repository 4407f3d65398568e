// Package ids implements the bit-packed identifier scheme used by the
// MetaFusion contracts. Packet and prompt ids are 32-bit integers, card
// (image) ids are 256-bit integers carrying the generation seed and the six
// constituent prompt ids.
//
// All codecs are total over their fixed bit width: fields wider than their
// slot are truncated by the masking scheme rather than rejected, matching the
// contract's own arithmetic.
package ids

import "github.com/holiman/uint256"

// Field widths and masks for the 32-bit packet and prompt layouts.
//
//	packet: ssss ssss ssss ssss cccc cccc cccc cccc   (s = sequence, c = collection)
//	prompt: iiii pppp pppp pppp tttc cccc cccc cccc   (i = index, p = packet seq, t = type)
const (
	collectionBits = 16
	collectionMask = 0xFFFF

	promptCollectionMask = 0x1FFF
	promptTypeShift      = 13
	promptTypeMask       = 0x7
	promptPacketShift    = 16
	promptPacketMask     = 0xFFF
	promptIndexShift     = 28

	// packetComponentMask drops the prompt index and type fields, leaving
	// the packet-sequence and collection component. For collections below
	// 2^13 and sequences below 2^12 the result equals the packet id that
	// forged the prompt, for every index value.
	packetComponentMask = 0x0FFF1FFF
)

// ImagePromptSlots is the number of prompt ids embedded in a card id.
const ImagePromptSlots = 6

const imageSeedBits = 64

// EncodePacketID packs a collection id and the packet's sequence number
// within that collection.
func EncodePacketID(collection, sequence uint32) uint32 {
	return (sequence&collectionMask)<<collectionBits | collection&collectionMask
}

// DecodePacketID splits a packet id into its collection id and its sequence
// number within the collection.
func DecodePacketID(id uint32) (collection, sequence uint32) {
	return id & collectionMask, id >> collectionBits
}

// EncodePromptID packs a prompt id from its position in the opened packet,
// the packet's sequence number, the trait type and the collection id.
func EncodePromptID(index, packetSeq, typ, collection uint32) uint32 {
	return index<<promptIndexShift |
		(packetSeq&promptPacketMask)<<promptPacketShift |
		(typ&promptTypeMask)<<promptTypeShift |
		collection&promptCollectionMask
}

// DecodePromptID splits a prompt id into its sequence index inside the
// packet, the collection id, the trait type and the originating packet's
// sequence number.
func DecodePromptID(id uint32) (index, collection, typ, packetSeq uint32) {
	index = id >> promptIndexShift
	collection = id & promptCollectionMask
	typ = (id >> promptTypeShift) & promptTypeMask
	packetSeq = (id >> promptPacketShift) & promptPacketMask
	return index, collection, typ, packetSeq
}

// PromptPacketID masks a prompt id down to the id of the packet that
// produced it.
func PromptPacketID(promptID uint32) uint32 {
	return promptID & packetComponentMask
}

// EncodeImageID packs the generation seed and the six constituent prompt ids
// into a 256-bit card id. The seed occupies the low 64 bits; prompt slot i
// sits at bits [64+32i, 95+32i].
func EncodeImageID(seed uint64, prompts [ImagePromptSlots]uint32) *uint256.Int {
	id := new(uint256.Int).SetUint64(seed)
	slot := new(uint256.Int)
	for i, prompt := range prompts {
		slot.SetUint64(uint64(prompt))
		slot.Lsh(slot, uint(imageSeedBits+32*i))
		id.Or(id, slot)
	}
	return id
}

// DecodeImageID splits a 256-bit card id into its seed and the six embedded
// prompt ids, least significant slot first. Unused slots decode as zero.
func DecodeImageID(id *uint256.Int) (seed uint64, prompts [ImagePromptSlots]uint32) {
	seed = id.Uint64()
	slot := new(uint256.Int)
	for i := 0; i < ImagePromptSlots; i++ {
		slot.Rsh(id, uint(imageSeedBits+32*i))
		prompts[i] = uint32(slot.Uint64())
	}
	return seed, prompts
}

// ImagePrompts returns the non-zero prompt ids embedded in a card id.
func ImagePrompts(id *uint256.Int) []uint32 {
	_, slots := DecodeImageID(id)
	out := make([]uint32, 0, ImagePromptSlots)
	for _, prompt := range slots {
		if prompt != 0 {
			out = append(out, prompt)
		}
	}
	return out
}
