package execution

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/statedb"
	"github.com/colorfulnotion/blockexec/types"
)

const contractAddressPrefix = "STARKNET_CONTRACT_ADDRESS"

// ExecuteDeployment binds classHash to address and then runs the class's constructor.
// The binding is in state before the constructor starts, so the constructor can call
// back into its own address.
func ExecuteDeployment(ctx context.Context, state statedb.State, epCtx *EntryPointExecutionContext, classHash common.Hash, address, deployer common.Felt, calldata []common.Felt) (*types.CallInfo, error) {
	current, err := state.GetClassHashAt(address)
	if err != nil {
		return nil, execerrors.PreExecution(err)
	}
	if current != (common.Hash{}) {
		return nil, execerrors.PreExecution(fmt.Errorf("%w: %s", execerrors.ErrContractAddressOccupied, address))
	}
	if err := state.SetClassHashAt(address, classHash); err != nil {
		return nil, execerrors.PreExecution(err)
	}
	log.DebugContext(ctx, log.ExecMonitoring, "ExecuteDeployment", "address", address, "class", classHash.String_short(), "deployer", deployer)
	return ExecuteConstructorEntryPoint(ctx, state, epCtx, classHash, address, deployer, calldata)
}

// ExecuteConstructorEntryPoint runs the constructor of classHash at address. A class
// without a constructor only accepts empty calldata.
func ExecuteConstructorEntryPoint(ctx context.Context, state statedb.State, epCtx *EntryPointExecutionContext, classHash common.Hash, address, deployer common.Felt, calldata []common.Felt) (*types.CallInfo, error) {
	class, err := state.GetContractClass(classHash)
	if err != nil {
		return nil, execerrors.PreExecution(err)
	}
	call := types.CallEntryPoint{
		CodeAddress:        &address,
		EntryPointType:     types.EntryPointTypeConstructor,
		EntryPointSelector: types.ConstructorEntryPointSelector,
		Calldata:           calldata,
		StorageAddress:     address,
		CallerAddress:      deployer,
		CallType:           types.CallTypeCall,
	}
	if len(class.EntryPoints(types.EntryPointTypeConstructor)) == 0 {
		if len(calldata) > 0 {
			return nil, execerrors.PreExecution(execerrors.ErrConstructorCalldataNotEmpty)
		}
		call.ClassHash = &classHash
		return &types.CallInfo{
			Call:      call,
			ClassHash: classHash,
			Execution: types.CallExecution{Retdata: []common.Felt{}},
		}, nil
	}
	return ExecuteCall(ctx, call, state, epCtx)
}

// CalculateContractAddress derives a deployment address from the deployer, salt, class
// and constructor calldata. The result fits in 250 bits.
func CalculateContractAddress(salt common.Felt, classHash common.Hash, calldata []common.Felt, deployer common.Felt) common.Felt {
	cd := make([]byte, 0, 32*len(calldata))
	for _, f := range calldata {
		b := f.Bytes32()
		cd = append(cd, b[:]...)
	}
	calldataHash := common.Keccak256(cd)

	buf := make([]byte, 0, len(contractAddressPrefix)+4*32)
	buf = append(buf, contractAddressPrefix...)
	d, s := deployer.Bytes32(), salt.Bytes32()
	buf = append(buf, d[:]...)
	buf = append(buf, s[:]...)
	buf = append(buf, classHash[:]...)
	buf = append(buf, calldataHash[:]...)
	h := common.Keccak256(buf)
	h[0] &= 0x03
	return common.FeltFromHash(h)
}
