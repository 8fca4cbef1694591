package reconstruction

import (
	"fmt"
	"strings"
)

// CanvasOrigin selects where index (0,0) of the section canvas lies.
type CanvasOrigin int

const (
	// CanvasOriginSpacing puts canvas index (0,0) at physical
	// (xyres, xyres), one pixel in from the tvs origin.
	CanvasOriginSpacing CanvasOrigin = iota
	// CanvasOriginZero puts canvas index (0,0) at physical (0,0).
	CanvasOriginZero
)

func (o CanvasOrigin) String() string {
	switch o {
	case CanvasOriginSpacing:
		return "spacing"
	case CanvasOriginZero:
		return "zero"
	}
	return fmt.Sprintf("CanvasOrigin(%d)", int(o))
}

// ParseCanvasOrigin accepts "spacing" or "zero".
func ParseCanvasOrigin(s string) (CanvasOrigin, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spacing":
		return CanvasOriginSpacing, nil
	case "zero":
		return CanvasOriginZero, nil
	}
	return 0, fmt.Errorf("unknown canvas origin %q (want spacing or zero)", s)
}
