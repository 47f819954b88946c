package batch

import (
	"strconv"
	"sync/atomic"
)

// Color is one entry of the embed palette offered by the color option.
type Color struct {
	Name  string
	Value int
}

// Palette is indexed by the configured embed color (0-6).
var Palette = []Color{
	{Name: "Default", Value: 0xE67E22},
	{Name: "Yellow", Value: 0xF1C40F},
	{Name: "Orange", Value: 0xE67E22},
	{Name: "Purple", Value: 0x9B59B6},
	{Name: "Turquoise", Value: 0x1ABC9C},
	{Name: "Red", Value: 0xE74C3C},
	{Name: "Green", Value: 0x2ECC71},
}

// ParseColor accepts a palette index ("0".."6") or a palette name.
func ParseColor(s string) (int, bool) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, i >= 0 && i < len(Palette)
	}
	for i, c := range Palette {
		if c.Name == s {
			return i, true
		}
	}
	return 0, false
}

type colorSetting struct{ idx atomic.Int32 }

func (c *colorSetting) set(i int) bool {
	if i < 0 || i >= len(Palette) {
		return false
	}
	c.idx.Store(int32(i))
	return true
}

func (c *colorSetting) value() int { return Palette[c.idx.Load()].Value }
