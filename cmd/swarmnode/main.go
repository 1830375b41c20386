// Command swarmnode runs a standalone Kademlia-style UDP swarm node.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/kadeswarm/swarm/internal/xlog"
	"github.com/kadeswarm/swarm/p2p/discover"
	"github.com/kadeswarm/swarm/p2p/netutil"
)

var (
	ListenFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "UDP address to listen on",
		Value: ":30300",
	}
	BootstrapFlag = cli.StringFlag{
		Name:  "bootstrap",
		Usage: "comma-separated list of host:port bootstrap peers",
	}
	TopicFlag = cli.StringFlag{
		Name:  "topic",
		Usage: "hex-encoded 32-byte topic to join",
	}
	AnnounceFlag = cli.BoolFlag{
		Name:  "announce",
		Usage: "announce this node on the joined topic",
	}
	LookupFlag = cli.BoolFlag{
		Name:  "lookup",
		Usage: "periodically search for peers on the joined topic",
	}
	NetworkKeyFlag = cli.StringFlag{
		Name:  "netkey",
		Usage: "hex-encoded 32-byte shared network key; omit for a plaintext overlay",
	}
	NetrestrictFlag = cli.StringFlag{
		Name:  "netrestrict",
		Usage: "comma-separated CIDR list restricting which source addresses are trusted",
	}
	VerbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level: debug, info, warn, error",
		Value: "info",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "swarmnode"
	app.Usage = "a standalone Kademlia-style UDP swarm node"
	app.Flags = []cli.Flag{
		ListenFlag,
		BootstrapFlag,
		TopicFlag,
		AnnounceFlag,
		LookupFlag,
		NetworkKeyFlag,
		NetrestrictFlag,
		VerbosityFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	setVerbosity(ctx.String(VerbosityFlag.Name))

	var netrestrict *netutil.Netlist
	if raw := ctx.String(NetrestrictFlag.Name); raw != "" {
		nl, err := netutil.ParseNetlist(strings.Split(raw, ",")...)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", NetrestrictFlag.Name, err)
		}
		netrestrict = nl
	}

	node, err := discover.CreateSwarm(ctx.String(ListenFlag.Name), netrestrict)
	if err != nil {
		return fmt.Errorf("create swarm node: %w", err)
	}
	defer node.Close()

	if raw := ctx.String(NetworkKeyFlag.Name); raw != "" {
		key, err := parseNetworkKey(raw)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", NetworkKeyFlag.Name, err)
		}
		node.SetNetworkKey(&key)
	}

	node.SetCallback(func(id discover.NodeID, t discover.MessageType, address string, port uint16, payload any) {
		xlog.Debugf("discover: %s from %s (%s:%d) payload=%+v", t, id, address, port, payload)
	})

	xlog.Infof("swarmnode: self=%s listening on %s", node.Self, node.LocalAddr())

	if raw := ctx.String(BootstrapFlag.Name); raw != "" {
		addrs := strings.Split(raw, ",")
		if err := node.Bootstrap(addrs...); err != nil {
			xlog.Warnf("swarmnode: bootstrap completed with errors: %v", err)
		}
	}

	if raw := ctx.String(TopicFlag.Name); raw != "" {
		topic, err := parseTopic(raw)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", TopicFlag.Name, err)
		}
		handle, err := node.JoinTopic(topic, ctx.Bool(AnnounceFlag.Name), ctx.Bool(LookupFlag.Name))
		if err != nil {
			return fmt.Errorf("join topic: %w", err)
		}
		defer handle.Leave()
	}

	printStatsForever(node)
	return nil
}

func printStatsForever(node *discover.Node) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := node.Stats()
		xlog.Infof("swarmnode: table size=%d active_topics=%d", stats.Table.Total, stats.ActiveTopics)
	}
}

func setVerbosity(level string) {
	switch strings.ToLower(level) {
	case "debug":
		xlog.SetLevel(slog.LevelDebug)
	case "warn":
		xlog.SetLevel(slog.LevelWarn)
	case "error":
		xlog.SetLevel(slog.LevelError)
	default:
		xlog.SetLevel(slog.LevelInfo)
	}
}

func parseNetworkKey(raw string) ([discover.NetworkKeySize]byte, error) {
	var key [discover.NetworkKeySize]byte
	b, err := hex.DecodeString(raw)
	if err != nil {
		return key, err
	}
	if len(b) != discover.NetworkKeySize {
		return key, fmt.Errorf("network key must be %d bytes, got %d", discover.NetworkKeySize, len(b))
	}
	copy(key[:], b)
	return key, nil
}

func parseTopic(raw string) (discover.Topic, error) {
	var topic discover.Topic
	b, err := hex.DecodeString(raw)
	if err != nil {
		return topic, err
	}
	if len(b) != discover.IDLength {
		return topic, fmt.Errorf("topic must be %d bytes, got %d", discover.IDLength, len(b))
	}
	copy(topic[:], b)
	return topic, nil
}
