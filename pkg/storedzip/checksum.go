package storedzip

// ieeePolynomial is the reversed IEEE 802.3 polynomial used by ZIP, Ethernet and PNG.
const ieeePolynomial = 0xedb88320

var crcTable = makeTable(ieeePolynomial)

func makeTable(poly uint32) *[256]uint32 {
	t := new([256]uint32)
	for i := range t {
		crc := uint32(i)
		for j := 0; j < 8; j++ {
			if crc&1 == 1 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Checksum returns the CRC-32 of b as recorded in ZIP headers.
func Checksum(b []byte) uint32 {
	crc := ^uint32(0)
	for _, v := range b {
		crc = crcTable[byte(crc)^v] ^ (crc >> 8)
	}
	return ^crc
}
