package store

import (
	"crypto/rand"
	"math/big"
)

const (
	codeAlphabet = "abcdefghijklmnopqrstuvwxyz"
	codeLength   = 6

	// 26^6 codes make collisions rare; a handful of retries is plenty.
	maxCodeAttempts = 50
)

// GenerateCode samples fresh six-letter lowercase codes until one does
// not collide with a live session.
func (s *Store) GenerateCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		s.mu.RLock()
		_, taken := s.sessions[code]
		s.mu.RUnlock()
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodesExhausted
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
