package main

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"lnm/internal/battle"
	"lnm/internal/gateway"
	"lnm/internal/httpserver"

	"github.com/spf13/cobra"
)

var (
	gatewayAddr string
	battleSeed  int64
	battleRaw   bool
)

// gatewayCmd serves the battle solver.
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Battle solver HTTP gateway",
}

var gatewayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /battles/solve",
	Args:  cobra.NoArgs,
	RunE:  runGatewayServe,
}

// battleCmd works with battle notation locally.
var battleCmd = &cobra.Command{
	Use:   "battle",
	Short: "Battle notation tools",
}

var battleSolveCmd = &cobra.Command{
	Use:   "solve <attacker> <defender> [finished attackerWon]",
	Short: "Solve a battle and print its log",
	Long: `Solves a battle given as battle state notation. The state may be passed as
one quoted argument or as separate fields; missing flags default to "0 0".`,
	Example: `  lnm battle solve 0000995/0000020/0000600/0000400/0000030/0000000/0000060/0000020 \
                   0000500/0000300/0000200/0000100/0000050/0000040/0000030/0000010`,
	Args: cobra.RangeArgs(1, 4),
	RunE: runBattleSolve,
}

func init() {
	gatewayServeCmd.Flags().StringVar(&gatewayAddr, "addr", "", "Listen address (overrides gateway.server.address)")
	battleSolveCmd.Flags().Int64Var(&battleSeed, "seed", 0, "Random seed (default: time based)")
	battleSolveCmd.Flags().BoolVar(&battleRaw, "raw", false, "Print the log in notation only")

	gatewayCmd.AddCommand(gatewayServeCmd)
	battleCmd.AddCommand(battleSolveCmd)
}

func runGatewayServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	settings := httpserver.SettingsFromConfig("gateway", cfg.Gateway.Server)
	if gatewayAddr != "" {
		settings.Address = gatewayAddr
	}
	handler := gateway.NewHandler(cfg.Gateway.Server.MaxBodyBytes)
	srv := httpserver.New(settings, handler.Router(), httpserver.WithLogger(logger))
	return srv.Run(ctx)
}

// stateNotation joins CLI arguments into one battle state line.
func stateNotation(args []string) string {
	fields := strings.Fields(strings.Join(args, " "))
	if len(fields) == 2 {
		fields = append(fields, "0", "0")
	}
	return strings.Join(fields, " ")
}

func runBattleSolve(cmd *cobra.Command, args []string) error {
	initial, err := battle.ParseState(stateNotation(args))
	if err != nil {
		return err
	}
	seed := battleSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	res, err := battle.Solve(initial, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if battleRaw {
		fmt.Fprintln(out, res.Log.String())
		return nil
	}
	fmt.Fprintln(out, renderBattle(initial, res))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("seed %d", seed)))
	return nil
}
