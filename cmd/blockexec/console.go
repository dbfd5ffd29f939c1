package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/blockexec/chainspecs"
	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/execution"
	"github.com/colorfulnotion/blockexec/storage"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/dop251/goja"
)

const consoleHelp = `invoke(address, entry, ...calldata)   run an external entry point
deploy(classHash, salt, ...calldata)   deploy a declared class
storage(address, key)                  read a storage cell
classAt(address)                       class hash deployed at address
diff()                                 pending state diff
visited()                              visited pcs of the pending session
commit()                               persist the pending session
abort()                                drop the pending session`

// console is an interactive JavaScript session over one pending state. Nothing is
// persisted until commit() is called.
type console struct {
	ctx   context.Context
	spec  *chainspecs.ChainSpec
	store *storage.StateStore
	epCtx func(tx *types.TransactionContext) *execution.EntryPointExecutionContext
	sess  stateSession
	vm    *goja.Runtime
}

func newConsole(ctx context.Context, spec *chainspecs.ChainSpec, store *storage.StateStore, epCtx func(tx *types.TransactionContext) *execution.EntryPointExecutionContext) (*console, error) {
	c := &console{
		ctx:   ctx,
		spec:  spec,
		store: store,
		epCtx: epCtx,
		sess:  newSession(spec, store),
		vm:    goja.New(),
	}
	bindings := map[string]interface{}{
		"invoke":  c.invoke,
		"deploy":  c.deploy,
		"storage": c.storage,
		"classAt": c.classAt,
		"diff":    c.diff,
		"visited": c.visited,
		"commit":  c.commit,
		"abort":   c.abort,
		"help":    func() string { return consoleHelp },
		"print": func(args ...goja.Value) {
			for _, arg := range args {
				fmt.Println(arg.Export())
			}
		},
	}
	for name, fn := range bindings {
		if err := c.vm.Set(name, fn); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// throw raises err as a JavaScript exception.
func (c *console) throw(err error) {
	panic(c.vm.NewGoError(fmt.Errorf("[%s] %w", execerrors.GetErrorCodeWithName(err), err)))
}

func (c *console) felt(s string) common.Felt {
	f, err := common.FeltFromString(s)
	if err != nil {
		c.throw(err)
	}
	return f
}

func (c *console) felts(xs []string) []common.Felt {
	out := make([]common.Felt, len(xs))
	for i, x := range xs {
		out[i] = c.felt(x)
	}
	return out
}

func (c *console) invoke(address, entry string, calldata ...string) map[string]interface{} {
	call := types.CallEntryPoint{
		EntryPointType:     types.EntryPointTypeExternal,
		EntryPointSelector: selectorArg(entry),
		Calldata:           c.felts(calldata),
		StorageAddress:     c.felt(address),
		CallType:           types.CallTypeCall,
	}
	info, err := execution.ExecuteCall(c.ctx, call, c.sess.State(), c.epCtx(nil))
	if err != nil {
		c.throw(err)
	}
	fmt.Println(info.ToTree().String())
	return callSummary(info)
}

func (c *console) deploy(classHash, salt string, calldata ...string) string {
	h := common.HexToHash(classHash)
	cd := c.felts(calldata)
	address := execution.CalculateContractAddress(c.felt(salt), h, cd, common.Felt{})
	if _, err := execution.ExecuteDeployment(c.ctx, c.sess.State(), c.epCtx(nil), h, address, common.Felt{}, cd); err != nil {
		c.throw(err)
	}
	return address.Hex()
}

func (c *console) storage(address, key string) string {
	v, err := c.sess.State().GetStorageAt(c.felt(address), c.felt(key))
	if err != nil {
		c.throw(err)
	}
	return v.Hex()
}

func (c *console) classAt(address string) string {
	h, err := c.sess.State().GetClassHashAt(c.felt(address))
	if err != nil {
		c.throw(err)
	}
	return h.Hex()
}

// diff round-trips through JSON so scripts see plain objects keyed by hex strings.
func (c *console) diff() interface{} {
	d, err := c.sess.Diff()
	if err != nil {
		c.throw(err)
	}
	data, err := json.Marshal(d)
	if err != nil {
		c.throw(err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		c.throw(err)
	}
	return out
}

func (c *console) visited() map[string][]uint64 {
	out := make(map[string][]uint64)
	for h, pcs := range c.sess.VisitedPcs() {
		out[h.Hex()] = pcs
	}
	return out
}

func (c *console) commit() string {
	if err := c.sess.Commit(); err != nil {
		c.throw(err)
	}
	c.sess = newSession(c.spec, c.store)
	return "committed"
}

func (c *console) abort() string {
	c.sess = newSession(c.spec, c.store)
	return "aborted"
}

func callSummary(info *types.CallInfo) map[string]interface{} {
	retdata := make([]string, len(info.Execution.Retdata))
	for i, f := range info.Execution.Retdata {
		retdata[i] = f.Hex()
	}
	return map[string]interface{}{
		"retdata":     retdata,
		"steps":       info.Execution.Steps,
		"total_steps": info.TotalSteps(),
		"events":      len(info.Execution.Events),
		"inner_calls": len(info.InnerCalls),
	}
}

func (c *console) run(historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "blockexec> ",
		HistoryFile: historyFile,
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("✅ blockexec console on %s (type help() for commands, exit to quit)\n", c.spec.ID)
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		value, err := c.vm.RunString(line)
		if err != nil {
			fmt.Printf("%s❌ %v%s\n", common.ColorRed, err, common.ColorReset)
			continue
		}
		if value != nil && !goja.IsUndefined(value) {
			fmt.Println(value.Export())
		}
	}
}
