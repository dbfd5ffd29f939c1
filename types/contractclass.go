package types

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/vm"
	"golang.org/x/exp/slices"
)

type EntryPoint struct {
	Selector common.Felt `json:"selector"`
	Offset   uint64      `json:"offset"`
}

// ContractClass is a declared program together with its entry points.
type ContractClass struct {
	Program           *vm.Program                     `json:"program"`
	EntryPointsByType map[EntryPointType][]EntryPoint `json:"entry_points_by_type"`
}

// Hash derives the class hash from the program and the entry points in a fixed order.
func (c *ContractClass) Hash() common.Hash {
	order := []EntryPointType{EntryPointTypeExternal, EntryPointTypeL1Handler, EntryPointTypeConstructor}
	var buf []byte
	buf = append(buf, c.Program.Bytes()...)
	for _, t := range order {
		buf = append(buf, []byte(t)...)
		for _, ep := range c.EntryPointsByType[t] {
			b := ep.Selector.Bytes32()
			buf = append(buf, b[:]...)
			buf = append(buf, common.Uint64ToBytes(ep.Offset)...)
		}
	}
	return common.ClassHashFromBytes(buf)
}

func (c *ContractClass) EntryPoints(t EntryPointType) []EntryPoint {
	return c.EntryPointsByType[t]
}

// Validate checks the program and that entry point offsets are inside it.
func (c *ContractClass) Validate() error {
	if err := c.Program.Validate(); err != nil {
		return err
	}
	for t, eps := range c.EntryPointsByType {
		for _, ep := range eps {
			if ep.Offset >= uint64(len(c.Program.Data)) {
				return fmt.Errorf("%s entry point %s offset %d outside program of %d cells", t, ep.Selector, ep.Offset, len(c.Program.Data))
			}
		}
	}
	return nil
}

// NewContractClass assembles source and binds entry points to its labels: external
// maps entry point names to labels, selectors being derived from the names. A label
// named "constructor" becomes the constructor.
func NewContractClass(src string, external ...string) (*ContractClass, error) {
	prog, err := vm.Assemble(src)
	if err != nil {
		return nil, err
	}
	class := &ContractClass{Program: prog, EntryPointsByType: make(map[EntryPointType][]EntryPoint)}
	for _, name := range external {
		pc, ok := prog.Label(name)
		if !ok {
			return nil, fmt.Errorf("entry point %q has no label", name)
		}
		class.EntryPointsByType[EntryPointTypeExternal] = append(class.EntryPointsByType[EntryPointTypeExternal],
			EntryPoint{Selector: common.SelectorFromName(name), Offset: pc})
	}
	if pc, ok := prog.Label("constructor"); ok {
		class.EntryPointsByType[EntryPointTypeConstructor] = []EntryPoint{{Selector: ConstructorEntryPointSelector, Offset: pc}}
	}
	if pc, ok := prog.Label("__default__"); ok {
		class.EntryPointsByType[EntryPointTypeExternal] = append(class.EntryPointsByType[EntryPointTypeExternal],
			EntryPoint{Selector: DefaultEntryPointSelector, Offset: pc})
	}
	for t := range class.EntryPointsByType {
		slices.SortFunc(class.EntryPointsByType[t], func(a, b EntryPoint) int { return a.Selector.Cmp(b.Selector) })
	}
	return class, class.Validate()
}

func (c *ContractClass) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ContractClassFromJSON decodes and validates a class.
func ContractClassFromJSON(data []byte) (*ContractClass, error) {
	var c ContractClass
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Program == nil {
		return nil, fmt.Errorf("contract class has no program")
	}
	return &c, c.Validate()
}
