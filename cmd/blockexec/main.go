// blockexec declares, deploys and invokes contract classes against a local leveldb
// state, printing the resulting call tree, state diff and visited program counters.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/colorfulnotion/blockexec/chainspecs"
	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/execution"
	log "github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/storage"
	"github.com/colorfulnotion/blockexec/telemetry"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "blockexec",
		Short: "Contract entry-point execution pipeline",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		dataPath          string
		chainSpec         string
		logLevel          string
		debug             string
		telemetryEndpoint string
		blockNumber       uint64
		blockTimestamp    uint64
	)
	rootCmd.PersistentFlags().StringVar(&dataPath, "data-path", filepath.Join(os.TempDir(), "blockexec"), "leveldb state directory")
	rootCmd.PersistentFlags().StringVar(&chainSpec, "chain", "dev", "network id (dev, testnet) or chain spec file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma separated log modules, or all")
	rootCmd.PersistentFlags().StringVar(&telemetryEndpoint, "telemetry", "", "OTLP/HTTP endpoint, e.g. http://localhost:4318")
	rootCmd.PersistentFlags().Uint64Var(&blockNumber, "block-number", 1, "block number seen by syscalls")
	rootCmd.PersistentFlags().Uint64Var(&blockTimestamp, "block-timestamp", 0, "block timestamp seen by syscalls (default now)")

	var spec *chainspecs.ChainSpec
	var store *storage.StateStore
	var shutdownTracing func(context.Context) error
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log.InitLogger(logLevel)
		log.EnableModules(debug)
		var err error
		spec, err = chainspecs.ReadSpec(chainSpec)
		if err != nil {
			return fmt.Errorf("failed to read chainspec %s: %w", chainSpec, err)
		}
		if telemetryEndpoint != "" {
			shutdownTracing, err = telemetry.InitTracing(cmd.Context(), telemetryEndpoint, 1.0)
			if err != nil {
				fmt.Printf("Warning: Failed to initialize telemetry: %v\n", err)
			}
		}
		store, err = storage.OpenStateStore(dataPath)
		if err != nil {
			return fmt.Errorf("failed to open state at %s: %w", dataPath, err)
		}
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
		if shutdownTracing != nil {
			shutdownTracing(context.Background())
		}
	}
	epCtx := func(tx *types.TransactionContext) *execution.EntryPointExecutionContext {
		ts := blockTimestamp
		if ts == 0 {
			ts = uint64(time.Now().Unix())
		}
		return execution.NewEntryPointExecutionContext(spec.BlockContext(blockNumber, ts), tx)
	}

	var entryPoints string
	var declareCmd = &cobra.Command{
		Use:   "declare <source.asm|class.json>",
		Short: "Declare a contract class from assembly or class JSON",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			class, err := loadClass(args[0], entryPoints)
			if err != nil {
				fmt.Printf("Failed to load class: %v\n", err)
				os.Exit(1)
			}
			sess := newSession(spec, store)
			h := class.Hash()
			if err := sess.State().SetContractClass(h, class); err != nil {
				fmt.Printf("Failed to declare: %v\n", err)
				os.Exit(1)
			}
			if err := sess.Commit(); err != nil {
				fmt.Printf("Failed to commit: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✓ Declared class %s\n", h.Hex())
		},
	}
	declareCmd.Flags().StringVar(&entryPoints, "entry", "", "comma separated external entry point labels")

	var (
		calldata string
		salt     string
		deployer string
	)
	var deployCmd = &cobra.Command{
		Use:   "deploy <class_hash>",
		Short: "Deploy a declared class and run its constructor",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			classHash := common.HexToHash(args[0])
			cd, err := parseFelts(calldata)
			exitOnError("calldata", err)
			saltFelt, err := common.FeltFromString(salt)
			exitOnError("salt", err)
			deployerFelt, err := common.FeltFromString(deployer)
			exitOnError("deployer", err)
			address := execution.CalculateContractAddress(saltFelt, classHash, cd, deployerFelt)

			sess := newSession(spec, store)
			info, err := execution.ExecuteDeployment(cmd.Context(), sess.State(), epCtx(nil), classHash, address, deployerFelt, cd)
			reportCall(info, err)
			exitOnError("commit", sess.Commit())
			fmt.Printf("✓ Deployed %s at %s\n", classHash.Hex(), address.Hex())
		},
	}
	deployCmd.Flags().StringVar(&calldata, "calldata", "", "comma separated constructor calldata")
	deployCmd.Flags().StringVar(&salt, "salt", "0", "address salt")
	deployCmd.Flags().StringVar(&deployer, "deployer", "0", "deployer address")

	var (
		caller   string
		diffOut  string
		graphOut string
		dryRun   bool
	)
	invoke := func(ctx context.Context, args []string) (stateSession, *types.CallInfo, error) {
		address, err := common.FeltFromString(args[0])
		if err != nil {
			return nil, nil, err
		}
		cd, err := parseFelts(calldata)
		if err != nil {
			return nil, nil, err
		}
		callerFelt, err := common.FeltFromString(caller)
		if err != nil {
			return nil, nil, err
		}
		call := types.CallEntryPoint{
			EntryPointType:     types.EntryPointTypeExternal,
			EntryPointSelector: selectorArg(args[1]),
			Calldata:           cd,
			StorageAddress:     address,
			CallerAddress:      callerFelt,
			CallType:           types.CallTypeCall,
		}
		sess := newSession(spec, store)
		info, err := execution.ExecuteCall(ctx, call, sess.State(), epCtx(&types.TransactionContext{SenderAddress: callerFelt}))
		return sess, info, err
	}
	var invokeCmd = &cobra.Command{
		Use:   "invoke <address> <entry_point>",
		Short: "Invoke an external entry point and commit its effects",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			sess, info, err := invoke(cmd.Context(), args)
			reportCall(info, err)
			if graphOut != "" {
				f, err := os.Create(graphOut)
				exitOnError("call graph", err)
				exitOnError("call graph", info.RenderGraph(f))
				f.Close()
				fmt.Printf("✓ Call graph written to %s\n", graphOut)
			}
			diff, err := sess.Diff()
			exitOnError("state diff", err)
			if diffOut != "" {
				data, err := json.MarshalIndent(diff, "", "  ")
				exitOnError("state diff", err)
				exitOnError("state diff", os.WriteFile(diffOut, data, 0o644))
				fmt.Printf("✓ State diff written to %s\n", diffOut)
			}
			if dryRun {
				return
			}
			exitOnError("commit", sess.Commit())
			fmt.Printf("✓ Committed %d contract storage updates\n", len(diff.StorageUpdates))
		},
	}
	invokeCmd.Flags().StringVar(&calldata, "calldata", "", "comma separated calldata")
	invokeCmd.Flags().StringVar(&caller, "caller", "0", "caller address")
	invokeCmd.Flags().StringVar(&diffOut, "diff-out", "", "write the state diff as JSON")
	invokeCmd.Flags().StringVar(&graphOut, "graph", "", "write the call tree as an HTML graph")
	invokeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not commit")

	var (
		expected string
		subset   bool
	)
	var verifyCmd = &cobra.Command{
		Use:   "verify <address> <entry_point>",
		Short: "Invoke without committing and diff the state diff against an expected JSON",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			want, err := os.ReadFile(expected)
			exitOnError("expected state diff", err)
			sess, info, err := invoke(cmd.Context(), args)
			reportCall(info, err)
			diff, err := sess.Diff()
			exitOnError("state diff", err)
			var modified bool
			var delta string
			if subset {
				var ok bool
				ok, delta, err = diff.VerifySubset(want)
				modified = !ok
			} else {
				modified, delta, err = diff.Verify(want)
			}
			exitOnError("verify", err)
			if modified {
				fmt.Printf("State diff mismatch:\n%s\n", delta)
				os.Exit(1)
			}
			fmt.Printf("✓ State diff matches %s\n", expected)
		},
	}
	verifyCmd.Flags().StringVar(&calldata, "calldata", "", "comma separated calldata")
	verifyCmd.Flags().StringVar(&caller, "caller", "0", "caller address")
	verifyCmd.Flags().StringVar(&expected, "expected", "", "expected state diff JSON")
	verifyCmd.Flags().BoolVar(&subset, "subset", false, "only require the expected entries to be present")
	verifyCmd.MarkFlagRequired("expected")

	var visitedCmd = &cobra.Command{
		Use:   "visited-pcs [class_hash]",
		Short: "Print the committed visited program counters",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			all, err := store.AllVisitedPcs()
			exitOnError("visited pcs", err)
			if len(args) == 1 {
				h := common.HexToHash(args[0])
				all = map[common.Hash][]uint64{h: all[h]}
			}
			data, err := json.MarshalIndent(all, "", "  ")
			exitOnError("visited pcs", err)
			fmt.Println(string(data))
		},
	}

	var historyFile string
	var consoleCmd = &cobra.Command{
		Use:   "console",
		Short: "Interactive JavaScript console over a pending state session",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			c, err := newConsole(cmd.Context(), spec, store, epCtx)
			exitOnError("console", err)
			exitOnError("console", c.run(historyFile))
		},
	}
	consoleCmd.Flags().StringVar(&historyFile, "history", filepath.Join(os.TempDir(), "blockexec_console_history.txt"), "readline history file")

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			commit := Commit
			if commit == "none" {
				commit = common.GetCommitHash()
			}
			fmt.Printf("blockexec %s (commit %s, built %s)\n", Version, commit, BuildTime)
		},
	}

	rootCmd.AddCommand(declareCmd, deployCmd, invokeCmd, verifyCmd, visitedCmd, consoleCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadClass(path, entryPoints string) (*types.ContractClass, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		return types.ContractClassFromJSON(data)
	}
	var names []string
	for _, n := range strings.Split(entryPoints, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return types.NewContractClass(string(data), names...)
}

// selectorArg accepts an entry point name or a raw selector felt.
func selectorArg(s string) common.Felt {
	if f, err := common.FeltFromString(s); err == nil {
		return f
	}
	return common.SelectorFromName(s)
}

func reportCall(info *types.CallInfo, err error) {
	if err != nil {
		fmt.Printf("%sCall failed [%s]%s: %v\n", common.ColorRed, execerrors.GetErrorCodeWithName(err), common.ColorReset, err)
		os.Exit(1)
	}
	fmt.Println(info.ToTree().String())
	fmt.Printf("retdata=%v total_steps=%d\n", info.Execution.Retdata, info.TotalSteps())
}

func exitOnError(what string, err error) {
	if err != nil {
		fmt.Printf("Failed (%s): %v\n", what, err)
		os.Exit(1)
	}
}
