package buffer

// Serialize copies src into dst at *off and advances *off. It copies nothing
// and returns false when src does not fit in the remaining capacity of dst.
func Serialize(dst, src []byte, off *int) bool {
	if *off < 0 || *off+len(src) > len(dst) {
		return false
	}
	*off += copy(dst[*off:], src)
	return true
}

// Deserialize fills dst from src at *off and advances *off. It copies nothing
// and returns false when src holds fewer than len(dst) bytes past *off.
func Deserialize(dst, src []byte, off *int) bool {
	if *off < 0 || *off+len(dst) > len(src) {
		return false
	}
	*off += copy(dst, src[*off:])
	return true
}
