package blend

// Channels is a set of RGBA channel flags. A cleared flag leaves the
// destination channel untouched; a cleared alpha flag locks the
// destination alpha.
type Channels uint8

// Channel flags.
const (
	ChannelRed Channels = 1 << iota
	ChannelGreen
	ChannelBlue
	ChannelAlpha

	// AllChannels enables every channel.
	AllChannels = ChannelRed | ChannelGreen | ChannelBlue | ChannelAlpha
)

// Has reports whether every flag in c2 is set.
func (c Channels) Has(c2 Channels) bool {
	return c&c2 == c2
}

// Params describes a run of N premultiplied RGBA pixels to composite.
type Params struct {
	// Dst and Src hold N pixels, 4 bytes each.
	Dst []byte
	Src []byte

	// Mask is optional; N coverage bytes scaling the source.
	Mask []byte

	N       int
	Opacity byte

	// Channels restricts the written channels. Zero selects all.
	Channels Channels
}

// Composite blends Src into Dst in place.
//
// The source is scaled by mask*opacity before blending. ModeCopy instead
// interpolates from destination to source by that factor.
func Composite(p Params, mode Mode) {
	fn := Lookup(mode)
	ch := p.Channels
	if ch == 0 {
		ch = AllChannels
	}
	dst, src := p.Dst, p.Src
	for i := 0; i < p.N; i++ {
		f := p.Opacity
		if p.Mask != nil {
			f = MulDiv255(f, p.Mask[i])
		}
		if f == 0 {
			continue
		}
		off := i * 4
		sr, sg, sb, sa := src[off], src[off+1], src[off+2], src[off+3]
		dr, dg, db, da := dst[off], dst[off+1], dst[off+2], dst[off+3]

		var r, g, b, a byte
		if mode == ModeCopy {
			r, g, b, a = Lerp(dr, sr, f), Lerp(dg, sg, f), Lerp(db, sb, f), Lerp(da, sa, f)
		} else {
			if f != 255 {
				sr, sg, sb, sa = MulDiv255(sr, f), MulDiv255(sg, f), MulDiv255(sb, f), MulDiv255(sa, f)
			}
			r, g, b, a = fn(sr, sg, sb, sa, dr, dg, db, da)
		}

		if ch != AllChannels {
			r, g, b, a = restrict(ch, r, g, b, a, dr, dg, db, da)
		}
		dst[off], dst[off+1], dst[off+2], dst[off+3] = r, g, b, a
	}
}

// restrict applies channel flags to a blended pixel.
func restrict(ch Channels, r, g, b, a, dr, dg, db, da byte) (byte, byte, byte, byte) {
	if !ch.Has(ChannelAlpha) {
		if a == 0 {
			return dr, dg, db, da
		}
		r, g, b = rescale(r, da, a), rescale(g, da, a), rescale(b, da, a)
		a = da
	}
	if !ch.Has(ChannelRed) {
		r = minByte(dr, a)
	}
	if !ch.Has(ChannelGreen) {
		g = minByte(dg, a)
	}
	if !ch.Has(ChannelBlue) {
		b = minByte(db, a)
	}
	return r, g, b, a
}

// rescale moves a premultiplied channel from alpha oldA to newA.
func rescale(c, newA, oldA byte) byte {
	v := (uint32(c)*uint32(newA) + uint32(oldA)/2) / uint32(oldA)
	if v > uint32(newA) {
		return newA
	}
	return byte(v)
}

// CompositeAlpha blends a run of single-channel alpha values in place.
// Mask and opacity scale the source the same way Composite does.
func CompositeAlpha(dst, src, mask []byte, n int, opacity byte, mode Mode) {
	for i := 0; i < n; i++ {
		f := opacity
		if mask != nil {
			f = MulDiv255(f, mask[i])
		}
		if f == 0 {
			continue
		}
		d := dst[i]
		if mode == ModeCopy {
			dst[i] = Lerp(d, src[i], f)
			continue
		}
		s := MulDiv255(src[i], f)
		dst[i] = alphaOp(mode, s, d)
	}
}

func alphaOp(mode Mode, s, d byte) byte {
	switch mode {
	case ModeAdd:
		return AddClamp(s, d)
	case ModeSubtract, ModeErase:
		return SubClamp(d, s)
	case ModeMultiply, ModeDestinationIn:
		return MulDiv255(s, d)
	case ModeScreen:
		return 255 - MulDiv255(255-s, 255-d)
	case ModeDarken:
		return minByte(s, d)
	case ModeLighten:
		return maxByte(s, d)
	case ModeDifference:
		return absDiff(s, d)
	default:
		return AddClamp(s, MulDiv255(d, 255-s))
	}
}
