package common

// ANSI escapes used when rendering call trees on a terminal.
const (
	ColorReset = "\033[0m"
	ColorBlue  = "\033[1;34m"
	ColorGreen = "\033[1;32m"
	ColorRed   = "\033[31m"
	ColorGray  = "\033[90m"
)
