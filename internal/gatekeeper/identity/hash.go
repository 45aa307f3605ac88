package identity

import "github.com/zeebo/blake3"

// idNumberDomainKey separates ID-number digests from any other keyed
// BLAKE3 use. Changing it invalidates every stored digest.
var idNumberDomainKey = [32]byte{
	'p', 'o', 'r', 't', 'u', 'n', 'u', 's', '.', 'g', 'a', 't', 'e', '.',
	'i', 'd', '-', 'n', 'u', 'm', 'b', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashIDNumber returns the 32-byte keyed BLAKE3 digest of the normalized
// ID number, or nil when nothing is left after normalization. Stores and
// audit rows keep only this digest.
func HashIDNumber(raw string) []byte {
	n := NormalizeIDNumber(raw)
	if n == "" {
		return nil
	}
	h, err := blake3.NewKeyed(idNumberDomainKey[:])
	if err != nil {
		// Only returned for keys that are not 32 bytes long.
		panic("identity: blake3 keyed hasher: " + err.Error())
	}
	_, _ = h.Write([]byte(n))
	return h.Sum(nil)
}
