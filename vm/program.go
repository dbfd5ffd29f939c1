package vm

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
)

// Program is the loaded bytecode of a contract class.
type Program struct {
	Data     []common.Felt     `json:"data"`
	Builtins []string          `json:"builtins"`
	Labels   map[string]uint64 `json:"labels,omitempty"`
}

// Validate checks that the program has code and that its builtins are supported and in
// canonical order.
func (p *Program) Validate() error {
	if p == nil || len(p.Data) == 0 {
		return fmt.Errorf("%w: empty program", ErrInvalidInstruction)
	}
	if err := CheckBuiltinOrder(p.Builtins); err != nil {
		return err
	}
	for _, name := range p.Builtins {
		if _, err := NewBuiltinRunner(name); err != nil {
			return err
		}
	}
	return nil
}

// Label returns the pc offset of a named label.
func (p *Program) Label(name string) (uint64, bool) {
	pc, ok := p.Labels[name]
	return pc, ok
}

// Bytes is the canonical serialisation hashed into a class hash.
func (p *Program) Bytes() []byte {
	b, _ := json.Marshal(struct {
		Data     []common.Felt `json:"data"`
		Builtins []string      `json:"builtins"`
	}{p.Data, p.Builtins})
	return b
}

// Disassemble renders the program one instruction per line.
func (p *Program) Disassemble() []string {
	names := make(map[uint64]string, len(p.Labels))
	for name, pc := range p.Labels {
		names[pc] = name
	}
	var out []string
	for pc := uint64(0); pc < uint64(len(p.Data)); {
		if name, ok := names[pc]; ok {
			out = append(out, name+":")
		}
		op, operand, err := DecodeInstruction(p.Data[pc])
		info, known := opcodeTable[op]
		if err != nil || !known {
			out = append(out, fmt.Sprintf("%6d  .word %s", pc, p.Data[pc]))
			pc++
			continue
		}
		switch {
		case info.imm && pc+1 < uint64(len(p.Data)):
			out = append(out, fmt.Sprintf("%6d  %s %s", pc, info.name, p.Data[pc+1]))
		case info.operand:
			out = append(out, fmt.Sprintf("%6d  %s %d", pc, info.name, operand))
		default:
			out = append(out, fmt.Sprintf("%6d  %s", pc, info.name))
		}
		pc += instructionSize(op)
	}
	return out
}
