package core

import (
	"errors"
	"strconv"
)

// StageCount is the length of the CPLD shift-register chain.
const StageCount = 48

// Stage is one position in the shift-register chain (0-47).
type Stage uint8

// Block names a group of stages carrying one value.
type Block uint8

const (
	BlockAZ Block = iota // azimuth steering word
	BlockEL              // elevation
	BlockFM              // front-end module mode
	BlockAT              // antenna test
	BlockPE              // power enables
	BlockSS              // sensor select
	blockCount
)

// BlockInfo is the static descriptor for a block.
type BlockInfo struct {
	Name  string
	Width uint8
}

var blockInfo = [blockCount]BlockInfo{
	BlockAZ: {Name: "az", Width: 24},
	BlockEL: {Name: "el", Width: 2},
	BlockFM: {Name: "fm", Width: 4},
	BlockAT: {Name: "at", Width: 3},
	BlockPE: {Name: "pe", Width: 2},
	BlockSS: {Name: "ss", Width: 5},
}

// AllBlocks lists the blocks in encode order.
var AllBlocks = []Block{BlockAZ, BlockEL, BlockFM, BlockAT, BlockPE, BlockSS}

func (b Block) Valid() bool { return b < blockCount }

// Name returns the lower-case command name of the block.
func (b Block) Name() string {
	if !b.Valid() {
		return "block" + strconv.Itoa(int(b))
	}
	return blockInfo[b].Name
}

// Width returns the number of bits in the block.
func (b Block) Width() uint8 {
	if !b.Valid() {
		return 0
	}
	return blockInfo[b].Width
}

// Max returns the largest value the block can hold.
func (b Block) Max() uint32 {
	return uint32(1)<<b.Width() - 1
}

func (b Block) String() string { return b.Name() }

// ParseBlock looks a block up by name (case-insensitive).
func ParseBlock(name string) (Block, error) {
	lower := toLower(name)
	for _, b := range AllBlocks {
		if blockInfo[b].Name == lower {
			return b, nil
		}
	}
	return 0, newError(ErrUnknownBlock, "", "%q", name)
}

// SignalClass tells what drives a stage.
type SignalClass uint8

const (
	ClassGround SignalClass = iota
	ClassFeedback
	ClassBlockBit
)

// PinEntry describes one stage of the chain.
type PinEntry struct {
	Stage        Stage
	ConnectorPin uint8
	Signal       string
	Class        SignalClass
	Block        Block // valid for ClassBlockBit only
	Bit          uint8 // bit significance inside Block
}

// PinMap is the validated, immutable stage table. Build it with NewPinMap.
type PinMap struct {
	entries       [StageCount]PinEntry
	blockStages   [blockCount][]Stage // indexed by bit significance
	groundMask    CommandWord
	feedbackStage Stage
}

// NewPinMap validates entries and builds the lookup tables.
func NewPinMap(entries []PinEntry) (*PinMap, error) {
	if len(entries) != StageCount {
		return nil, errors.New("pin map must have " + strconv.Itoa(StageCount) + " entries, got " + strconv.Itoa(len(entries)))
	}

	pm := &PinMap{}
	var seenStage [StageCount]bool
	var seenPin [51]bool
	grounds, feedbacks := 0, 0
	for b := Block(0); b < blockCount; b++ {
		pm.blockStages[b] = make([]Stage, b.Width())
	}
	var seenBit [blockCount][24]bool
	var bitCount [blockCount]int

	for _, e := range entries {
		if int(e.Stage) >= StageCount {
			return nil, errors.New("stage " + strconv.Itoa(int(e.Stage)) + " out of range")
		}
		if seenStage[e.Stage] {
			return nil, errors.New("duplicate stage " + strconv.Itoa(int(e.Stage)))
		}
		seenStage[e.Stage] = true
		if e.ConnectorPin < 1 || e.ConnectorPin > 50 {
			return nil, errors.New("connector pin " + strconv.Itoa(int(e.ConnectorPin)) + " out of range")
		}
		if seenPin[e.ConnectorPin] {
			return nil, errors.New("duplicate connector pin " + strconv.Itoa(int(e.ConnectorPin)))
		}
		seenPin[e.ConnectorPin] = true

		switch e.Class {
		case ClassGround:
			grounds++
			pm.groundMask |= stageBit(e.Stage)
		case ClassFeedback:
			feedbacks++
			pm.feedbackStage = e.Stage
		case ClassBlockBit:
			if !e.Block.Valid() {
				return nil, errors.New("stage " + strconv.Itoa(int(e.Stage)) + ": unknown block")
			}
			if e.Bit >= e.Block.Width() {
				return nil, errors.New("stage " + strconv.Itoa(int(e.Stage)) + ": bit " + strconv.Itoa(int(e.Bit)) + " outside " + e.Block.Name())
			}
			if seenBit[e.Block][e.Bit] {
				return nil, errors.New("duplicate " + e.Block.Name() + " bit " + strconv.Itoa(int(e.Bit)))
			}
			seenBit[e.Block][e.Bit] = true
			bitCount[e.Block]++
			pm.blockStages[e.Block][e.Bit] = e.Stage
		default:
			return nil, errors.New("stage " + strconv.Itoa(int(e.Stage)) + ": unknown signal class")
		}
		pm.entries[e.Stage] = e
	}

	if grounds != 7 {
		return nil, errors.New("pin map needs 7 ground stages, got " + strconv.Itoa(grounds))
	}
	if feedbacks != 1 {
		return nil, errors.New("pin map needs 1 feedback stage, got " + strconv.Itoa(feedbacks))
	}
	for b := Block(0); b < blockCount; b++ {
		if bitCount[b] != int(b.Width()) {
			return nil, errors.New(b.Name() + " needs " + strconv.Itoa(int(b.Width())) + " stages, got " + strconv.Itoa(bitCount[b]))
		}
	}
	return pm, nil
}

// Entry returns the table row for a stage.
func (pm *PinMap) Entry(s Stage) PinEntry { return pm.entries[s] }

// BlockStages returns the stages of b ordered by bit significance (bit 0 first).
func (pm *PinMap) BlockStages(b Block) []Stage {
	out := make([]Stage, len(pm.blockStages[b]))
	copy(out, pm.blockStages[b])
	return out
}

// GroundMask has a one at every ground stage.
func (pm *PinMap) GroundMask() CommandWord { return pm.groundMask }

// FeedbackStage returns the read-only sensor stage.
func (pm *PinMap) FeedbackStage() Stage { return pm.feedbackStage }

// IsGround reports whether s is hardwired to ground.
func (pm *PinMap) IsGround(s Stage) bool { return pm.groundMask&stageBit(s) != 0 }

func stageBit(s Stage) CommandWord { return CommandWord(1) << s }

// boardPins is the routed table of the production board: stage, connector
// pin and signal name. The stage order is the reverse of the connector
// enumeration, with the sensor output first because pin 8 is not routed
// through the registers.
var boardPins = []struct {
	pin    uint8
	signal string
}{
	{8, "SENS_OUT"}, {50, "AZ_00"}, {33, "AZ_01"}, {17, "AZ_12"},
	{49, "AZ_02"}, {32, "AZ_14"}, {16, "AZ_13"}, {48, "AZ_03"},
	{31, "AZ_04"}, {15, "AZ_15"}, {47, "AZ_05"}, {14, "AZ_16"},
	{30, "AZ_17"}, {46, "DGND"}, {13, "DGND"}, {29, "AZ_06"},
	{45, "AZ_07"}, {12, "AZ_18"}, {28, "AZ_19"}, {44, "AZ_08"},
	{11, "AZ_20"}, {27, "AZ_09"}, {10, "AZ_21"}, {43, "AZ_10"},
	{26, "AZ_22"}, {9, "AZ_23"}, {42, "AZ_11"}, {25, "EL_00"},
	{41, "EL_01"}, {7, "DGND"}, {24, "DGND"}, {40, "DGND"},
	{6, "DGND"}, {23, "FM_00"}, {5, "AT_01"}, {22, "AT_00"},
	{39, "FM_01"}, {4, "AT_02"}, {21, "FM_03"}, {38, "FM_02"},
	{20, "SS_00"}, {37, "DGND"}, {2, "SS_02"}, {1, "SS_04"},
	{18, "SS_03"}, {35, "PE_3P3V_EN"}, {34, "PE_8P0V_EN"}, {3, "SS_01"},
}

// BoardPinEntries expands the board table into PinEntry rows.
func BoardPinEntries() []PinEntry {
	entries := make([]PinEntry, len(boardPins))
	for i, p := range boardPins {
		e := PinEntry{Stage: Stage(i), ConnectorPin: p.pin, Signal: p.signal}
		switch {
		case p.signal == "DGND":
			e.Class = ClassGround
		case p.signal == "SENS_OUT":
			e.Class = ClassFeedback
		case p.signal == "PE_3P3V_EN":
			e.Class, e.Block, e.Bit = ClassBlockBit, BlockPE, 0
		case p.signal == "PE_8P0V_EN":
			e.Class, e.Block, e.Bit = ClassBlockBit, BlockPE, 1
		default:
			// XX_nn
			b, _ := ParseBlock(p.signal[:2])
			n, _ := strconv.Atoi(p.signal[3:])
			e.Class, e.Block, e.Bit = ClassBlockBit, b, uint8(n)
		}
		entries[i] = e
	}
	return entries
}

// DefaultPinMap returns the validated board table.
func DefaultPinMap() *PinMap {
	pm, err := NewPinMap(BoardPinEntries())
	if err != nil {
		panic("board pin map: " + err.Error())
	}
	return pm
}
