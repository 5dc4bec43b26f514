package safe

import (
	"math"
)

// Uint64ToInt safely converts an uint64 value to int, clamping to math.MaxInt if overflow
// would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt(val uint64) (int, bool) {
	if val > math.MaxInt {
		return math.MaxInt, true
	}
	return int(val), false
}
