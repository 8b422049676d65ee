package spi

// DefaultSpeedHz matches the clock the SX127x parts are usually driven at.
const DefaultSpeedHz = 5000000

type Config struct {
	// Mode is the SPI clock mode (0-3). SX127x radios use mode 0.
	Mode int
	// SpeedHz is the maximum clock rate; zero selects DefaultSpeedHz.
	SpeedHz int
}
