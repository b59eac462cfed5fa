package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("conv: integer overflow")

func overflow(v any, target string) error {
	return fmt.Errorf("%w: %v does not fit %s", ErrOverflow, v, target)
}

// IntToUint32 converts a length or offset to its on-segment width.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, overflow(v, "uint32")
	}
	return uint32(v), nil
}

// Uint64ToInt converts a stored size or version counter back to int.
func Uint64ToInt(v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, overflow(v, "int")
	}
	return int(v), nil
}

// Uint32ToInt fails only where int is 32 bits wide.
func Uint32ToInt(v uint32) (int, error) {
	if uint64(v) > math.MaxInt {
		return 0, overflow(v, "int")
	}
	return int(v), nil
}

// MustUint32 is IntToUint32 for values bounded by construction, such as
// row counts capped by the maximum batch size. It panics on overflow.
func MustUint32(v int) uint32 {
	u, err := IntToUint32(v)
	if err != nil {
		panic(err)
	}
	return u
}
