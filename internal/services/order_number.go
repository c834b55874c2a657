package services

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	orderNumberPrefix      = "ORD"
	orderNumberSuffixLen   = 9
	orderNumberSuffixChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// RandomOrderNumbers builds ORD-<unix millis>-<9 base36 chars> numbers from a cryptographic source.
type RandomOrderNumbers struct {
	random io.Reader
}

var _ OrderNumberGenerator = (*RandomOrderNumbers)(nil)

// NewRandomOrderNumbers returns a generator backed by crypto/rand when random is nil.
func NewRandomOrderNumbers(random io.Reader) *RandomOrderNumbers {
	if random == nil {
		random = rand.Reader
	}
	return &RandomOrderNumbers{random: random}
}

func (g *RandomOrderNumbers) Next(now time.Time) (string, error) {
	var b strings.Builder
	b.Grow(len(orderNumberPrefix) + 15 + orderNumberSuffixLen)
	b.WriteString(orderNumberPrefix)
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('-')

	max := big.NewInt(int64(len(orderNumberSuffixChars)))
	for i := 0; i < orderNumberSuffixLen; i++ {
		n, err := rand.Int(g.random, max)
		if err != nil {
			return "", fmt.Errorf("order number: read random: %w", err)
		}
		b.WriteByte(orderNumberSuffixChars[n.Int64()])
	}
	return b.String(), nil
}
