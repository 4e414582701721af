package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcbound/cqlpool/pkg/cqlpool"
	"github.com/arcbound/cqlpool/pkg/netconn"
)

var rootCmd = &cobra.Command{
	Use:     "cqlpool",
	Short:   "cqlpool - per-host connection pooling for a wide-column database client",
	Long:    `cqlpool manages, monitors and reconnects the connections a driver keeps open to one cluster node.`,
	Version: "0.1.0",
}

var probeCmd = &cobra.Command{
	Use:   "probe [address]",
	Short: "Open a pool against a single node and report its steady-state size",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("config", "", "path to a config file (defaults to built-in sizing)")
	probeCmd.Flags().String("keyspace", "", "keyspace to switch every borrowed connection to")
	probeCmd.Flags().Bool("remote", false, "treat the node as HostDistanceRemote instead of local")
	probeCmd.Flags().Duration("timeout", 5*time.Second, "borrow timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	address := args[0]
	configPath, _ := cmd.Flags().GetString("config")
	keyspace, _ := cmd.Flags().GetString("keyspace")
	remote, _ := cmd.Flags().GetBool("remote")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := cqlpool.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cqlpool.NewLogger(cfg.Logging)

	factory := func(ctx context.Context, addr string) (cqlpool.Connection, error) {
		return netconn.Dial(ctx, addr, netconn.ConnectOptions{})
	}
	session := cqlpool.NewDefaultSession(cfg, factory, keyspace, 0)

	distance := cqlpool.HostDistanceLocal
	if remote {
		distance = cqlpool.HostDistanceRemote
	}
	host := cqlpool.NewHost(address, func() cqlpool.ConvictionPolicy {
		return cqlpool.NewThresholdConvictionPolicy(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := cqlpool.NewHostConnectionPool(ctx, host, distance, session, logger)
	if err != nil {
		return fmt.Errorf("open pool against %s: %w", address, err)
	}
	defer pool.Shutdown()

	conn, err := pool.BorrowConnection(ctx, timeout)
	if err != nil {
		return fmt.Errorf("borrow connection: %w", err)
	}
	pool.ReturnConnection(conn)

	snap := pool.Metrics().Snapshot()
	fmt.Printf("host:        %s (%s)\n", address, distance)
	fmt.Printf("open:        %d\n", pool.OpenCount())
	fmt.Printf("connections: %d\n", pool.ConnectionCount())
	fmt.Printf("trash:       %d\n", pool.TrashCount())
	fmt.Printf("up:          %v\n", host.Monitor().IsUp())
	fmt.Printf("borrows:     %d (timed out: %d, failed: %d)\n",
		snap.BorrowsTotal, snap.BorrowsTimedOut, snap.BorrowsFailed)
	return nil
}
