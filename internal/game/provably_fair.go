package game

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

const (
	WHEEL_SIZE     = 37 // 0..36
	SECRET_KEY_LEN = 32 // bytes, 256 bits
)

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// Outcome is the committed result of one round.
type Outcome struct {
	Number         int
	Color          Color
	SecretKey      string
	CommitmentHash string
}

// Generator draws provably fair outcomes from a cryptographically secure source.
type Generator struct {
	random io.Reader
}

func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// Generate draws a number uniformly from [0, 36], a 256-bit secret key and
// the commitment hash binding them. Any failure of the random source aborts
// generation; there is no fallback source.
func (g *Generator) Generate() (Outcome, error) {
	n, err := rand.Int(g.random, big.NewInt(WHEEL_SIZE))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: draw number: %v", ErrFairnessGeneration, err)
	}

	key := make([]byte, SECRET_KEY_LEN)
	if _, err := io.ReadFull(g.random, key); err != nil {
		return Outcome{}, fmt.Errorf("%w: draw secret key: %v", ErrFairnessGeneration, err)
	}

	number := int(n.Int64())
	color := ColorOf(number)
	secret := hex.EncodeToString(key)

	return Outcome{
		Number:         number,
		Color:          color,
		SecretKey:      secret,
		CommitmentHash: HashCommitment(number, color, secret),
	}, nil
}

// ColorOf maps a wheel number to its pocket color.
func ColorOf(number int) Color {
	if number == 0 {
		return ColorGreen
	}
	if redNumbers[number] {
		return ColorRed
	}
	return ColorBlack
}

// HashCommitment creates a SHA256 hash over number:color:key. The number is
// decimal, the color a fixed word and the key hex, so ':' never appears
// inside a component.
func HashCommitment(number int, color Color, secretKey string) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(number) + ":" + string(color) + ":" + secretKey))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyCommitment allows players to verify the fairness of a revealed round.
func VerifyCommitment(number int, color Color, secretKey, commitment string) bool {
	if number < 0 || number >= WHEEL_SIZE || ColorOf(number) != color {
		return false
	}
	expected := HashCommitment(number, color, secretKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(commitment)) == 1
}
