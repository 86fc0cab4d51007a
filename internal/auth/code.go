package auth

import (
	"crypto/rand"
	"math/big"
)

const (
	codeLength   = 6
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewVerificationCode returns a 6-character code over digits and uppercase
// letters, drawn from crypto/rand.
func NewVerificationCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
