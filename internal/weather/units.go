package weather

import "fmt"

const (
	celsiusToFahrenheitScale  = 9.0 / 5.0
	celsiusToFahrenheitOffset = 32.0
)

// CelsiusToFahrenheit converts a temperature from Celsius to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*celsiusToFahrenheitScale + celsiusToFahrenheitOffset
}

// Present converts a canonical Celsius value into the given unit.
func (u TemperatureUnit) Present(celsius float64) float64 {
	if u == Fahrenheit {
		return CelsiusToFahrenheit(celsius)
	}
	return celsius
}

// Symbol is the display suffix for the unit.
func (u TemperatureUnit) Symbol() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// Format renders a canonical Celsius value with one decimal in the unit.
func (u TemperatureUnit) Format(celsius float64) string {
	return fmt.Sprintf("%.1f%s", u.Present(celsius), u.Symbol())
}

// Valid reports whether u is a known unit.
func (u TemperatureUnit) Valid() bool {
	return u == Celsius || u == Fahrenheit
}
