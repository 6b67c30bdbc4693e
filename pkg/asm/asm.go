// Package asm is the companion assembler: it turns a human-readable
// mnemonic form into the same bytecode the decoder understands. Its only
// contract obligation is that Decode(EncodeLine(line)) reproduces the
// mnemonic and operands of every legal line (spec.md §4.5, §8 property 4).
//
// Textual input is newline-separated records. Blank lines and lines
// beginning with '#' are skipped. Each remaining line is tokenized on
// whitespace and commas; the first token is a mnemonic, the rest are
// operands. Registers are written rN (0 <= N <= 12); immediates are
// decimal integers (optionally signed for branch offsets).
package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andyjsbell/pvm-dart/pkg/decoder"
)

// ErrUnknownMnemonic is returned when a line's first token does not match
// any opcode's mnemonic.
var ErrUnknownMnemonic = errors.New("asm: unknown mnemonic")

// ErrWrongOperandCount is returned when a mnemonic's shape expects a
// different number of operands than the line supplies.
var ErrWrongOperandCount = errors.New("asm: wrong operand count")

// ErrBadOperand is returned when an operand cannot be parsed as the
// register or immediate its position requires, or is out of range for the
// field width.
var ErrBadOperand = errors.New("asm: bad operand")

// Assemble encodes every legal line of source into a contiguous bytecode
// image: one 32-bit little-endian word per instruction, densely packed, in
// source order. Comment and blank lines contribute no bytes.
func Assemble(source string) ([]byte, error) {
	var out []byte
	for lineno, line := range strings.Split(source, "\n") {
		if skip(line) {
			continue
		}
		word, err := EncodeLine(line)
		if err != nil {
			return nil, fmt.Errorf("asm: line %d: %w", lineno+1, err)
		}
		out = append(out, byte(word), byte(word>>8), byte(word>>16), byte(word>>24))
	}
	return out, nil
}

func skip(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" || strings.HasPrefix(t, "#")
}

func tokenize(line string) []string {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return fields
}

// EncodeLine encodes a single assembler record into its instruction word.
func EncodeLine(line string) (uint32, error) {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return 0, fmt.Errorf("%w: empty line", ErrWrongOperandCount)
	}
	mnemonic := tokens[0]
	operands := tokens[1:]

	info, ok := decoder.ByMnemonic(mnemonic)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMnemonic, mnemonic)
	}

	switch info.Shape {
	case decoder.NoArgs:
		if err := wantOperands(mnemonic, operands, 0); err != nil {
			return 0, err
		}
		return uint32(info.Opcode), nil

	case decoder.OneImm:
		if err := wantOperands(mnemonic, operands, 1); err != nil {
			return 0, err
		}
		imm, err := parseUint(operands[0], 24)
		if err != nil {
			return 0, err
		}
		return uint32(info.Opcode) | (imm&0xFFFFFF)<<8, nil

	case decoder.OneRegOneExtImm:
		if err := wantOperands(mnemonic, operands, 2); err != nil {
			return 0, err
		}
		reg, err := parseReg(operands[0])
		if err != nil {
			return 0, err
		}
		imm, err := parseUint(operands[1], 16)
		if err != nil {
			return 0, err
		}
		return uint32(info.Opcode) | uint32(reg)<<8 | (imm&0xFFFF)<<16, nil

	case decoder.TwoImm:
		if err := wantOperands(mnemonic, operands, 2); err != nil {
			return 0, err
		}
		imm1, err := parseUint(operands[0], 8)
		if err != nil {
			return 0, err
		}
		imm2, err := parseUint(operands[1], 16)
		if err != nil {
			return 0, err
		}
		return uint32(info.Opcode) | (imm1&0xFF)<<8 | (imm2&0xFFFF)<<16, nil

	case decoder.OneOffset:
		if err := wantOperands(mnemonic, operands, 1); err != nil {
			return 0, err
		}
		off, err := parseInt(operands[0], 24)
		if err != nil {
			return 0, err
		}
		return uint32(info.Opcode) | (uint32(off)&0xFFFFFF)<<8, nil

	case decoder.OneRegOneImm:
		if err := wantOperands(mnemonic, operands, 2); err != nil {
			return 0, err
		}
		reg, err := parseReg(operands[0])
		if err != nil {
			return 0, err
		}
		imm, err := parseUint(operands[1], 20)
		if err != nil {
			return 0, err
		}
		return uint32(info.Opcode) | uint32(reg)<<8 | (imm&0xFFFFF)<<12, nil

	case decoder.TwoReg:
		if err := wantOperands(mnemonic, operands, 2); err != nil {
			return 0, err
		}
		r1, err := parseReg(operands[0])
		if err != nil {
			return 0, err
		}
		r2, err := parseReg(operands[1])
		if err != nil {
			return 0, err
		}
		return uint32(info.Opcode) | uint32(r1)<<8 | uint32(r2)<<12, nil

	case decoder.ThreeReg:
		if err := wantOperands(mnemonic, operands, 3); err != nil {
			return 0, err
		}
		r1, err := parseReg(operands[0])
		if err != nil {
			return 0, err
		}
		r2, err := parseReg(operands[1])
		if err != nil {
			return 0, err
		}
		r3, err := parseReg(operands[2])
		if err != nil {
			return 0, err
		}
		return uint32(info.Opcode) | uint32(r1)<<8 | uint32(r2)<<12 | uint32(r3)<<16, nil

	default:
		return 0, fmt.Errorf("asm: mnemonic %q has unhandled shape %s", mnemonic, info.Shape)
	}
}

func wantOperands(mnemonic string, operands []string, want int) error {
	if len(operands) != want {
		return fmt.Errorf("%w: %q wants %d operand(s), got %d", ErrWrongOperandCount, mnemonic, want, len(operands))
	}
	return nil
}

func parseReg(tok string) (uint8, error) {
	if len(tok) < 2 || (tok[0] != 'r' && tok[0] != 'R') {
		return 0, fmt.Errorf("%w: %q is not a register (want rN)", ErrBadOperand, tok)
	}
	n, err := strconv.ParseUint(tok[1:], 10, 8)
	if err != nil || n >= decoder.NumRegisters {
		return 0, fmt.Errorf("%w: %q is not a valid register index", ErrBadOperand, tok)
	}
	return uint8(n), nil
}

func parseUint(tok string, bits int) (uint32, error) {
	v, err := strconv.ParseUint(tok, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrBadOperand, tok)
	}
	if v >= uint64(1)<<uint(bits) {
		return 0, fmt.Errorf("%w: %q does not fit in %d unsigned bits", ErrBadOperand, tok, bits)
	}
	return uint32(v), nil
}

func parseInt(tok string, bits int) (int32, error) {
	v, err := strconv.ParseInt(tok, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrBadOperand, tok)
	}
	lo := -(int64(1) << uint(bits-1))
	hi := int64(1)<<uint(bits-1) - 1
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %q does not fit in %d signed bits", ErrBadOperand, tok, bits)
	}
	return int32(v), nil
}
