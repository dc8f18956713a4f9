package tokenizer

import "unicode"

// TargetScript covers the dense CJK blocks that cost more tokens per character:
// CJK symbols and punctuation, hiragana, katakana, CJK unified ideographs and
// full/half-width forms.
var TargetScript = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3000, Hi: 0x303f, Stride: 1},
		{Lo: 0x3040, Hi: 0x309f, Stride: 1},
		{Lo: 0x30a0, Hi: 0x30ff, Stride: 1},
		{Lo: 0x4e00, Hi: 0x9faf, Stride: 1},
		{Lo: 0xff00, Hi: 0xff9f, Stride: 1},
	},
}

// Per-character token costs, in hundredths of a token.
const (
	TargetCharCost = 67
	OtherCharCost  = 25
)

// IsTarget reports whether r belongs to TargetScript.
func IsTarget(r rune) bool {
	return unicode.Is(TargetScript, r)
}

// ScriptCount is a per-script character tally. Characters are counted as code points.
type ScriptCount struct {
	Target int
	Other  int
}

// Total returns the number of characters counted.
func (c ScriptCount) Total() int { return c.Target + c.Other }

// CountScript tallies target-script and other characters in text.
func CountScript(text string) ScriptCount {
	var c ScriptCount
	for _, r := range text {
		if IsTarget(r) {
			c.Target++
		} else {
			c.Other++
		}
	}
	return c
}

// CeilCost converts chars at costHundredths per char into whole tokens, rounding up.
func CeilCost(chars, costHundredths int) int {
	return (chars*costHundredths + 99) / 100
}

// FallbackEstimate applies the character-frequency formula
// ceil(target*0.67 + other*0.25) without consulting any tokenizer.
func FallbackEstimate(text string) int {
	c := CountScript(text)
	return (c.Target*TargetCharCost + c.Other*OtherCharCost + 99) / 100
}
