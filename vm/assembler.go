package vm

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/colorfulnotion/blockexec/common"
)

var mnemonics = func() map[string]byte {
	m := make(map[string]byte, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.name] = op
	}
	return m
}()

type asmLine struct {
	lineNo  int
	op      byte
	operand string
	pc      uint64
}

// Assemble translates assembly text into a Program. Lines hold an optional "label:",
// an optional mnemonic with one operand, and "#" comments. ".builtins a b ..." declares
// the program's builtins. Jump operands may name labels; immediates may be integers,
// labels (absolute pc) or 'short strings'.
func Assemble(src string) (*Program, error) {
	prog := &Program{Labels: make(map[string]uint64)}
	var lines []asmLine
	pc := uint64(0)

	scanner := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".builtins") {
			prog.Builtins = append(prog.Builtins, strings.Fields(line)[1:]...)
			continue
		}
		if i := strings.Index(line, ":"); i >= 0 && !strings.Contains(line[:i], "'") {
			label := strings.TrimSpace(line[:i])
			if label == "" || strings.ContainsAny(label, " \t") {
				return nil, fmt.Errorf("line %d: invalid label %q", lineNo, label)
			}
			if _, dup := prog.Labels[label]; dup {
				return nil, fmt.Errorf("line %d: duplicate label %q", lineNo, label)
			}
			prog.Labels[label] = pc
			line = strings.TrimSpace(line[i+1:])
			if line == "" {
				continue
			}
		}
		fields := strings.SplitN(line, " ", 2)
		op, ok := mnemonics[strings.ToLower(fields[0])]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown mnemonic %q", lineNo, fields[0])
		}
		operand := ""
		if len(fields) == 2 {
			operand = strings.TrimSpace(fields[1])
		}
		info := opcodeTable[op]
		if (info.imm || info.operand) && operand == "" {
			return nil, fmt.Errorf("line %d: %s needs an operand", lineNo, info.name)
		}
		if !info.imm && !info.operand && operand != "" {
			return nil, fmt.Errorf("line %d: %s takes no operand", lineNo, info.name)
		}
		lines = append(lines, asmLine{lineNo: lineNo, op: op, operand: operand, pc: pc})
		pc += instructionSize(op)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	prog.Data = make([]common.Felt, 0, pc)
	for _, l := range lines {
		info := opcodeTable[l.op]
		switch {
		case info.imm:
			imm, err := parseImmediate(l.operand, prog.Labels)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", l.lineNo, err)
			}
			prog.Data = append(prog.Data, EncodeInstruction(l.op, 0), imm)
		case info.operand:
			off, err := parseOffset(l.operand, l.pc, info.relative, prog.Labels)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", l.lineNo, err)
			}
			prog.Data = append(prog.Data, EncodeInstruction(l.op, off))
		default:
			prog.Data = append(prog.Data, EncodeInstruction(l.op, 0))
		}
	}
	if len(prog.Labels) == 0 {
		prog.Labels = nil
	}
	return prog, prog.Validate()
}

// MustAssemble panics on malformed source; intended for fixtures.
func MustAssemble(src string) *Program {
	p, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return p
}

func parseImmediate(s string, labels map[string]uint64) (common.Felt, error) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		text := s[1 : len(s)-1]
		if len(text) > 31 {
			return common.Felt{}, fmt.Errorf("short string %q longer than 31 characters", text)
		}
		return common.FeltFromShortString(text), nil
	}
	if pc, ok := labels[s]; ok {
		return common.NewFelt(pc), nil
	}
	if strings.HasPrefix(s, "-") {
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return common.Felt{}, fmt.Errorf("invalid immediate %q", s)
		}
		return common.FeltFromInt64(n), nil
	}
	return common.FeltFromString(s)
}

func parseOffset(s string, pc uint64, relative bool, labels map[string]uint64) (int32, error) {
	if target, ok := labels[s]; ok {
		if !relative {
			return 0, fmt.Errorf("label %q is not a valid offset here", s)
		}
		return int32(int64(target) - int64(pc)), nil
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("offset %d out of range", n)
	}
	return int32(n), nil
}
