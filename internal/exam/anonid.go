package exam

import (
	"crypto/rand"
	"fmt"
	"math/big"

	hashids "github.com/speps/go-hashids"
)

const (
	anonIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	anonIDLength   = 8
	anonIDSalt     = "rubrica anonymous exam identifier"

	// maxAnonIDAttempts bounds the collision loop. With ~8e9 candidates a
	// second attempt is already rare.
	maxAnonIDAttempts = 32
)

// anonIDSpace keeps encoded values at about eight characters; longer
// encodings are cut to length.
var anonIDSpace = big.NewInt(8031810176) // 26^7

// NewAnonID returns a fresh anonymous identifier that exists reports as
// unused. The token is a hashids encoding of a crypto/rand number, so it is
// neither sequential nor guessable.
func NewAnonID(exists func(id string) (bool, error)) (string, error) {
	hd := hashids.NewData()
	hd.Alphabet = anonIDAlphabet
	hd.Salt = anonIDSalt
	hd.MinLength = anonIDLength
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return "", fmt.Errorf("anon id: init encoder: %w", err)
	}

	for i := 0; i < maxAnonIDAttempts; i++ {
		n, err := rand.Int(rand.Reader, anonIDSpace)
		if err != nil {
			return "", fmt.Errorf("anon id: random source: %w", err)
		}
		id, err := h.EncodeInt64([]int64{n.Int64()})
		if err != nil {
			return "", fmt.Errorf("anon id: encode: %w", err)
		}
		if len(id) > anonIDLength {
			id = id[:anonIDLength]
		}
		if !ValidAnonID(id) {
			continue
		}
		taken, err := exists(id)
		if err != nil {
			return "", fmt.Errorf("anon id: uniqueness check: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("anon id: no unused identifier after %d attempts", maxAnonIDAttempts)
}
