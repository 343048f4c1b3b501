package core

// CommandWord is the 48-bit CPLD command word. Bit i is stage i.
type CommandWord uint64

// WordMask covers the usable bits of a CommandWord.
const WordMask CommandWord = 1<<StageCount - 1

// Bit reports the value of stage s.
func (w CommandWord) Bit(s Stage) bool { return w&stageBit(s) != 0 }

// With returns w with stage s set to v.
func (w CommandWord) With(s Stage, v bool) CommandWord {
	if v {
		return w | stageBit(s)
	}
	return w &^ stageBit(s)
}

// Binary renders the word as 48 characters, stage 47 first.
func (w CommandWord) Binary() string { return binaryString(uint64(w&WordMask), StageCount) }

// Hex renders the word as 12 hex digits.
func (w CommandWord) Hex() string { return hexString(uint64(w&WordMask), 12) }

// Codec maps block values to and from command words using a PinMap.
// All methods are pure.
type Codec struct {
	pins *PinMap
}

func NewCodec(pins *PinMap) *Codec {
	return &Codec{pins: pins}
}

// PinMap returns the table the codec was built with.
func (c *Codec) PinMap() *PinMap { return c.pins }

// DecodeBlock gathers the block's bits, bit 0 least significant, and returns
// the value with its zero-padded binary rendering.
func (c *Codec) DecodeBlock(w CommandWord, b Block) (uint32, string) {
	if !b.Valid() {
		return 0, ""
	}
	var v uint32
	for bit, s := range c.pins.blockStages[b] {
		if w.Bit(s) {
			v |= 1 << uint(bit)
		}
	}
	return v, binaryString(uint64(v), int(b.Width()))
}

// EncodeOverride returns w with only the stages of b replaced by v. Ground
// stages in the result are always zero and the feedback stage is copied
// from w.
func (c *Codec) EncodeOverride(w CommandWord, b Block, v uint32) (CommandWord, error) {
	if err := c.checkValue(b, v); err != nil {
		return w, err
	}
	return c.encode(w, b, v), nil
}

// BuildWord applies every override to w. All overrides are validated first so
// an error never leaves a partial result. Blocks are applied in AllBlocks
// order; blocks not in overrides are untouched.
func (c *Codec) BuildWord(w CommandWord, overrides map[Block]uint32) (CommandWord, error) {
	for b, v := range overrides {
		if err := c.checkValue(b, v); err != nil {
			return w, err
		}
	}
	out := w &^ c.pins.groundMask
	for _, b := range AllBlocks {
		if v, ok := overrides[b]; ok {
			out = c.encode(out, b, v)
		}
	}
	return out & WordMask, nil
}

// ApplyRaw replaces w with raw verbatim except that grounds stay zero and the
// feedback stage keeps its value from w.
func (c *Codec) ApplyRaw(w CommandWord, raw CommandWord) CommandWord {
	fb := c.pins.feedbackStage
	out := raw &^ c.pins.groundMask
	out = out.With(fb, w.Bit(fb))
	return out & WordMask
}

// Sanitize forces the ground stages of w to zero.
func (c *Codec) Sanitize(w CommandWord) CommandWord {
	return (w &^ c.pins.groundMask) & WordMask
}

// FormatWord renders w with every block decoded, for readcommand.
func (c *Codec) FormatWord(w CommandWord) string {
	s := "word=" + w.Hex() + " bits=" + w.Binary()
	for _, b := range AllBlocks {
		v, bin := c.DecodeBlock(w, b)
		s += " " + b.Name() + "=" + itoa(int(v)) + "(0b" + bin + ")"
	}
	fb := "0"
	if w.Bit(c.pins.feedbackStage) {
		fb = "1"
	}
	return s + " sens=" + fb
}

func (c *Codec) checkValue(b Block, v uint32) error {
	if !b.Valid() {
		return newError(ErrUnknownBlock, "encode", "%d", b)
	}
	if v > b.Max() {
		return newError(ErrInvalidValue, "encode", "%s value %d exceeds %d bits", b.Name(), v, b.Width())
	}
	return nil
}

func (c *Codec) encode(w CommandWord, b Block, v uint32) CommandWord {
	for bit, s := range c.pins.blockStages[b] {
		w = w.With(s, v&(1<<uint(bit)) != 0)
	}
	return (w &^ c.pins.groundMask) & WordMask
}
