package mail

import (
	"crypto/sha512"
	"strings"
)

// itoa64 is the base64 alphabet glibc's crypt(3) uses for its $6$ scheme
// (distinct from standard base64): "./0-9A-Za-z".
const itoa64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// defaultRounds is the SHA-512-crypt round count when the hash carries no
// explicit rounds=N$ parameter.
const defaultRounds = 5000

// SHA512Crypt hashes password with salt using glibc's $6$ scheme at the
// default round count, producing the "$6$<salt>$<hash>" string Dovecot's
// passwd-file driver expects for the sha512-crypt scheme. salt is
// truncated to 16 bytes per the scheme's limit.
func SHA512Crypt(password, salt string) string {
	if len(salt) > 16 {
		salt = salt[:16]
	}
	P := []byte(password)
	S := []byte(salt)

	bHash := sha512.New()
	bHash.Write(P)
	bHash.Write(S)
	bHash.Write(P)
	b := bHash.Sum(nil)

	aHash := sha512.New()
	aHash.Write(P)
	aHash.Write(S)
	for n := len(P); n > 0; n -= 64 {
		if n > 64 {
			aHash.Write(b)
		} else {
			aHash.Write(b[:n])
		}
	}
	for n := len(P); n > 0; n >>= 1 {
		if n&1 != 0 {
			aHash.Write(b)
		} else {
			aHash.Write(P)
		}
	}
	a := aHash.Sum(nil)

	dpHash := sha512.New()
	for i := 0; i < len(P); i++ {
		dpHash.Write(P)
	}
	pSeq := repeatToLen(dpHash.Sum(nil), len(P))

	dsHash := sha512.New()
	for i := 0; i < 16+int(a[0]); i++ {
		dsHash.Write(S)
	}
	sSeq := repeatToLen(dsHash.Sum(nil), len(S))

	for round := 0; round < defaultRounds; round++ {
		cHash := sha512.New()
		if round%2 != 0 {
			cHash.Write(pSeq)
		} else {
			cHash.Write(a)
		}
		if round%3 != 0 {
			cHash.Write(sSeq)
		}
		if round%7 != 0 {
			cHash.Write(pSeq)
		}
		if round%2 != 0 {
			cHash.Write(a)
		} else {
			cHash.Write(pSeq)
		}
		a = cHash.Sum(nil)
	}

	return "$6$" + salt + "$" + encodeDigest(a)
}

func repeatToLen(src []byte, n int) []byte {
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = src[i%len(src)]
	}
	return out
}

// sha512CryptOrder is the byte-triplet permutation glibc's $6$ scheme
// applies before base64-style encoding; it does not follow the digest's
// natural byte order.
var sha512CryptOrder = [21][3]int{
	{0, 21, 42}, {22, 43, 1}, {44, 2, 23}, {3, 24, 45}, {25, 46, 4},
	{47, 5, 26}, {6, 27, 48}, {28, 49, 7}, {50, 8, 29}, {9, 30, 51},
	{31, 52, 10}, {53, 11, 32}, {12, 33, 54}, {34, 55, 13}, {56, 14, 35},
	{15, 36, 57}, {37, 58, 16}, {59, 17, 38}, {18, 39, 60}, {40, 61, 19},
	{62, 20, 41},
}

func encodeDigest(a []byte) string {
	var sb strings.Builder
	for _, idx := range sha512CryptOrder {
		sb.WriteString(b64From24Bit(a[idx[0]], a[idx[1]], a[idx[2]], 4))
	}
	sb.WriteString(b64From24Bit(0, 0, a[63], 2))
	return sb.String()
}

func b64From24Bit(b2, b1, b0 byte, n int) string {
	w := uint32(b2)<<16 | uint32(b1)<<8 | uint32(b0)
	out := make([]byte, n)
	for i := range out {
		out[i] = itoa64[w&0x3f]
		w >>= 6
	}
	return string(out)
}
