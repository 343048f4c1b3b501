package core

// ADCChannelID identifies a logical ADC channel (0-3 map to GP26-GP29 on RP2040).
type ADCChannelID uint8

// ADCValue is the "raw" ADC reading as seen by the rest of the firmware.
// Convention here: 16-bit value, even if underlying hardware is 12 bits.
type ADCValue uint16

// ADCDriver is the abstract ADC interface that core code uses.
type ADCDriver interface {
	// ConfigureChannel prepares a channel for analog input.
	// For pin-muxed channels, this should set pin to analog mode.
	ConfigureChannel(ch ADCChannelID) error

	// ReadRaw performs a one-shot sample from the given channel.
	// Returns a 16-bit scaled value (e.g. 12-bit HW value left-shifted).
	ReadRaw(ch ADCChannelID) (ADCValue, error)
}
