package blend

// Mode identifies a blend function.
type Mode uint8

const (
	// ModeNormal is source-over compositing. Result: S + D*(1-Sa).
	ModeNormal Mode = iota
	// ModeCopy replaces the destination with the source.
	ModeCopy
	// ModeAdd adds source and destination, clamped. Result: min(S+D, 1).
	ModeAdd
	// ModeSubtract subtracts source color from destination color.
	ModeSubtract
	// ModeMultiply multiplies colors. B = S*D.
	ModeMultiply
	// ModeScreen lightens. B = 1-(1-S)*(1-D).
	ModeScreen
	// ModeOverlay multiplies or screens depending on the destination.
	ModeOverlay
	// ModeDarken selects the darker color. B = min(S, D).
	ModeDarken
	// ModeLighten selects the lighter color. B = max(S, D).
	ModeLighten
	// ModeDifference takes the absolute difference. B = |S-D|.
	ModeDifference
	// ModeErase removes destination where the source is opaque. Result: D*(1-Sa).
	ModeErase
	// ModeDestinationIn keeps destination where the source is opaque. Result: D*Sa.
	ModeDestinationIn
)

// Func is the signature for blend operations.
// All values are premultiplied alpha, 0-255.
type Func func(sr, sg, sb, sa, dr, dg, db, da byte) (r, g, b, a byte)

// Lookup returns the blend function for mode.
// Returns the source-over function for unknown modes.
func Lookup(mode Mode) Func {
	switch mode {
	case ModeCopy:
		return blendCopy
	case ModeAdd:
		return blendAdd
	case ModeSubtract:
		return blendSubtract
	case ModeMultiply:
		return blendMultiply
	case ModeScreen:
		return blendScreen
	case ModeOverlay:
		return blendOverlay
	case ModeDarken:
		return blendDarken
	case ModeLighten:
		return blendLighten
	case ModeDifference:
		return blendDifference
	case ModeErase:
		return blendErase
	case ModeDestinationIn:
		return blendDestinationIn
	default:
		return blendNormal
	}
}

// Porter-Duff style operators.

func blendNormal(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	invSa := 255 - sa
	return AddClamp(sr, MulDiv255(dr, invSa)),
		AddClamp(sg, MulDiv255(dg, invSa)),
		AddClamp(sb, MulDiv255(db, invSa)),
		AddClamp(sa, MulDiv255(da, invSa))
}

func blendCopy(sr, sg, sb, sa, _, _, _, _ byte) (byte, byte, byte, byte) {
	return sr, sg, sb, sa
}

func blendAdd(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return AddClamp(sr, dr), AddClamp(sg, dg), AddClamp(sb, db), AddClamp(sa, da)
}

func blendErase(_, _, _, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	invSa := 255 - sa
	return MulDiv255(dr, invSa), MulDiv255(dg, invSa), MulDiv255(db, invSa), MulDiv255(da, invSa)
}

func blendDestinationIn(_, _, _, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return MulDiv255(dr, sa), MulDiv255(dg, sa), MulDiv255(db, sa), MulDiv255(da, sa)
}

// Separable blend modes.

// separableBlend applies a per-channel blend function B to unmultiplied
// channels. Result = (1-Sa)*D + (1-Da)*S + Sa*Da*B(Sc, Dc), alpha is the
// union Sa + Da*(1-Sa).
func separableBlend(sr, sg, sb, sa, dr, dg, db, da byte, blendChan func(s, d byte) byte) (byte, byte, byte, byte) {
	if sa == 0 {
		return dr, dg, db, da
	}
	if da == 0 {
		return sr, sg, sb, sa
	}

	blendR := blendChan(Unpremultiply(sr, sa), Unpremultiply(dr, da))
	blendG := blendChan(Unpremultiply(sg, sa), Unpremultiply(dg, da))
	blendB := blendChan(Unpremultiply(sb, sa), Unpremultiply(db, da))

	invSa := 255 - sa
	invDa := 255 - da
	saDa := MulDiv255(sa, da)

	chanOut := func(s, d, b byte) byte {
		v := AddClamp(MulDiv255(d, invSa), MulDiv255(s, invDa))
		return AddClamp(v, MulDiv255(saDa, b))
	}

	return chanOut(sr, dr, blendR),
		chanOut(sg, dg, blendG),
		chanOut(sb, db, blendB),
		AddClamp(sa, MulDiv255(da, invSa))
}

func blendSubtract(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return separableBlend(sr, sg, sb, sa, dr, dg, db, da, func(s, d byte) byte {
		return SubClamp(d, s)
	})
}

func blendMultiply(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return separableBlend(sr, sg, sb, sa, dr, dg, db, da, MulDiv255)
}

func blendScreen(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return separableBlend(sr, sg, sb, sa, dr, dg, db, da, func(s, d byte) byte {
		return 255 - MulDiv255(255-s, 255-d)
	})
}

func blendOverlay(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return separableBlend(sr, sg, sb, sa, dr, dg, db, da, func(s, d byte) byte {
		if d < 128 {
			return byte(min(255, 2*uint32(MulDiv255(d, s))))
		}
		return 255 - byte(min(255, 2*uint32(MulDiv255(255-d, 255-s))))
	})
}

func blendDarken(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return separableBlend(sr, sg, sb, sa, dr, dg, db, da, minByte)
}

func blendLighten(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return separableBlend(sr, sg, sb, sa, dr, dg, db, da, maxByte)
}

func blendDifference(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	return separableBlend(sr, sg, sb, sa, dr, dg, db, da, absDiff)
}
