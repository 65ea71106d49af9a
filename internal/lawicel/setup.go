package lawicel

// baudRates maps CAN bit rates to the setup command character.
var baudRates = [...]struct {
	hz   uint32
	code byte
}{
	{10000, '0'},
	{20000, '1'},
	{50000, '2'},
	{100000, '3'},
	{125000, '4'},
	{250000, '5'},
	{500000, '6'},
	{800000, '7'},
	{1000000, '8'},
}

// BaudRateCode returns the setup character for hz, or false if the adapter
// has no preset for it.
func BaudRateCode(hz uint32) (byte, bool) {
	for _, r := range baudRates {
		if r.hz == hz {
			return r.code, true
		}
	}
	return 0, false
}

// BaudRates lists the supported bit rates in ascending order.
func BaudRates() []uint32 {
	out := make([]uint32, len(baudRates))
	for i, r := range baudRates {
		out[i] = r.hz
	}
	return out
}

// SetupCommand returns "S<code>\r".
func SetupCommand(code byte) [3]byte {
	return [3]byte{'S', code, Terminator}
}

// OpenCommand returns "O\r".
func OpenCommand() [2]byte {
	return [2]byte{'O', Terminator}
}
