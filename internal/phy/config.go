package phy

// Config holds the serial line and radio parameters applied at Init, per
// the configuration surface table in §6.
type Config struct {
	Port     string
	BaudRate uint

	Frequency       uint32 // Hz, one of the two legal LoRa bands
	Bandwidth       int    // kHz: 125, 250 or 500
	CodingRate      string // "4/5".."4/8"
	Power           int    // dBm, -3..15
	SpreadingFactor string // "sf7".."sf12"

	TxBufSize int
	RxBufSize int
}

// DefaultConfig returns the defaults enumerated in §6.
func DefaultConfig() Config {
	return Config{
		Port:            "/dev/ttyUSB0",
		BaudRate:        57600,
		Frequency:       868100000,
		Bandwidth:       125,
		CodingRate:      "4/5",
		Power:           1,
		SpreadingFactor: "sf10",
		TxBufSize:       10,
		RxBufSize:       10,
	}
}
