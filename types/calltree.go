package types

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/xlab/treeprint"
)

func (c *CallInfo) label() string {
	return fmt.Sprintf("%s%s%s selector=%s %sclass=%s%s steps=%d retdata=%v %sevents=%d%s",
		common.ColorBlue, c.Call.StorageAddress, common.ColorReset,
		c.Call.EntryPointSelector,
		common.ColorGreen, c.ClassHash.String_short(), common.ColorReset,
		c.Execution.Steps, c.Execution.Retdata,
		common.ColorGray, len(c.Execution.Events), common.ColorReset)
}

// ToTree renders the call tree.
func (c *CallInfo) ToTree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(c.label())
	for _, inner := range c.InnerCalls {
		inner.addTo(tree)
	}
	return tree
}

func (c *CallInfo) addTo(parent treeprint.Tree) {
	branch := parent.AddBranch(c.label())
	for _, inner := range c.InnerCalls {
		inner.addTo(branch)
	}
}
