package sender

// decompose splits amount into CryptoNote "clean" digits: each output is a
// single significant digit (1-9) scaled by a power of ten, most significant
// first — e.g. 1234 decomposes to [1000, 200, 30, 4]. Zero digits are
// skipped; decomposing 0 yields no digits at all.
func decompose(amount uint64) []uint64 {
	if amount == 0 {
		return nil
	}
	var digits []uint64
	place := uint64(1)
	for amount > 0 {
		d := amount % 10
		if d != 0 {
			digits = append(digits, d*place)
		}
		amount /= 10
		place *= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return digits
}
