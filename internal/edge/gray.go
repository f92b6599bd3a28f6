package edge

// grayscale reduces packed RGBA to luma with BT.601 integer weights,
// truncating. Alpha is ignored.
func grayscale(rgba []byte, dst []byte) {
	for i, o := 0, 0; i < len(dst); i, o = i+1, o+4 {
		r := uint32(rgba[o])
		g := uint32(rgba[o+1])
		b := uint32(rgba[o+2])
		dst[i] = byte((299*r + 587*g + 114*b) / 1000)
	}
}
