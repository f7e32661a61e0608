// Package qris renders QRIS payment artifacts. A merchant's static
// EMV payload is rewritten into a dynamic one carrying the exact
// disambiguated amount, then encoded as a QR image on disk.
package qris

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	staticPIM  = "010211"
	dynamicPIM = "010212"
	countryTag = "5802ID"
)

var ErrMalformedPayload = errors.New("malformed static QRIS payload")

// Checksum computes CRC-16/CCITT-FALSE over s, upper-case hex, as the
// EMV trailer tag 63 requires.
func Checksum(s string) string {
	crc := uint16(0xFFFF)

	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8

		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}

	return fmt.Sprintf("%04X", crc)
}

// DynamicPayload injects amount into the static payload: the
// point-of-initiation flag flips to dynamic, transaction-amount tag 54
// is inserted before the country code, and the checksum is recomputed.
func DynamicPayload(static string, amount int64) (string, error) {
	if len(static) <= 4 {
		return "", ErrMalformedPayload
	}

	// The last four characters are the old checksum.
	body := static[:len(static)-4]
	body = strings.Replace(body, staticPIM, dynamicPIM, 1)

	head, tail, found := strings.Cut(body, countryTag)
	if !found {
		return "", ErrMalformedPayload
	}

	digits := strconv.FormatInt(amount, 10)
	if len(digits) > 13 {
		return "", fmt.Errorf("amount %d exceeds tag 54 capacity", amount)
	}

	payload := head + fmt.Sprintf("54%02d%s", len(digits), digits) + countryTag + tail

	return payload + Checksum(payload), nil
}
