package rpc

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
)

// wordSize is the ABI slot width in bytes.
const wordSize = 32

// maxArrayLen bounds decoded dynamic arrays so a hostile contract
// cannot make us allocate unbounded memory.
const maxArrayLen = 1000

// EncodeCall builds eth_call calldata from a 4-byte selector and
// 32-byte argument words.
func EncodeCall(selector string, words ...[]byte) string {
	var b strings.Builder
	b.WriteString("0x")
	b.WriteString(selector)
	for _, w := range words {
		b.WriteString(hex.EncodeToString(common.LeftPadBytes(w, wordSize)))
	}
	return b.String()
}

// AddressWord encodes an EVM address as a left-padded argument word.
func AddressWord(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), wordSize)
}

// Uint256Word encodes an unsigned integer as an argument word.
func Uint256Word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), wordSize)
}

// Uint64Word encodes a uint64 as an argument word.
func Uint64Word(v uint64) []byte {
	return Uint256Word(new(big.Int).SetUint64(v))
}

func resultBytes(result string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(result, "0x"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeRPCError, "malformed hex result", err)
	}
	return raw, nil
}

func word(raw []byte, index int) ([]byte, error) {
	start := index * wordSize
	if len(raw) < start+wordSize {
		return nil, apperrors.Newf(apperrors.ErrCodeRPCError, "result too short for word %d", index)
	}
	return raw[start : start+wordSize], nil
}

// DecodeUint256 reads the unsigned integer at the given word index.
func DecodeUint256(result string, index int) (*big.Int, error) {
	raw, err := resultBytes(result)
	if err != nil {
		return nil, err
	}
	w, err := word(raw, index)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// DecodeAddress reads the address at the given word index, returned in
// EIP-55 checksum form.
func DecodeAddress(result string, index int) (string, error) {
	raw, err := resultBytes(result)
	if err != nil {
		return "", err
	}
	w, err := word(raw, index)
	if err != nil {
		return "", err
	}
	return common.BytesToAddress(w).Hex(), nil
}

// int128Bound marks the sign bit of a 128-bit two's complement value.
var int128Bound = new(big.Int).Lsh(big.NewInt(1), 127)

// int128Modulus is 2^128, subtracted to recover negative values.
var int128Modulus = new(big.Int).Lsh(big.NewInt(1), 128)

// DecodeInt128 reads a signed 128-bit integer at the given word index.
func DecodeInt128(result string, index int) (*big.Int, error) {
	v, err := DecodeUint256(result, index)
	if err != nil {
		return nil, err
	}
	if v.Cmp(int128Bound) >= 0 {
		v = new(big.Int).Sub(v, int128Modulus)
	}
	return v, nil
}

// DecodeString reads a dynamic string return value: a head word holding
// the tail offset, then length and bytes at the tail.
func DecodeString(result string) (string, error) {
	return DecodeStringAt(result, 0)
}

// DecodeStringAt reads a dynamic string whose head word sits at the
// given index, as in multi-value returns. Offsets are relative to the
// start of the result.
func DecodeStringAt(result string, headIndex int) (string, error) {
	raw, err := resultBytes(result)
	if err != nil {
		return "", err
	}
	offsetWord, err := word(raw, headIndex)
	if err != nil {
		return "", err
	}
	offset := new(big.Int).SetBytes(offsetWord)
	if !offset.IsInt64() || offset.Int64()+wordSize > int64(len(raw)) {
		return "", apperrors.New(apperrors.ErrCodeRPCError, "string offset out of range")
	}

	start := int(offset.Int64())
	length := new(big.Int).SetBytes(raw[start : start+wordSize])
	if !length.IsInt64() {
		return "", apperrors.New(apperrors.ErrCodeRPCError, "string length out of range")
	}
	dataStart := start + wordSize
	dataEnd := dataStart + int(length.Int64())
	if dataEnd > len(raw) {
		return "", apperrors.New(apperrors.ErrCodeRPCError, "string data out of range")
	}
	return string(raw[dataStart:dataEnd]), nil
}

// DecodeAddressArray reads a dynamic address array return value.
func DecodeAddressArray(result string) ([]string, error) {
	raw, err := resultBytes(result)
	if err != nil {
		return nil, err
	}
	offsetWord, err := word(raw, 0)
	if err != nil {
		return nil, err
	}
	offset := new(big.Int).SetBytes(offsetWord)
	if !offset.IsInt64() || offset.Int64()+wordSize > int64(len(raw)) {
		return nil, apperrors.New(apperrors.ErrCodeRPCError, "array offset out of range")
	}

	start := int(offset.Int64())
	count := new(big.Int).SetBytes(raw[start : start+wordSize])
	if !count.IsInt64() || count.Int64() > maxArrayLen {
		return nil, apperrors.New(apperrors.ErrCodeRPCError, "array length out of range")
	}

	n := int(count.Int64())
	addrs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		elemStart := start + wordSize + i*wordSize
		if elemStart+wordSize > len(raw) {
			return nil, apperrors.New(apperrors.ErrCodeRPCError, "array data out of range")
		}
		addrs = append(addrs, common.BytesToAddress(raw[elemStart:elemStart+wordSize]).Hex())
	}
	return addrs, nil
}
