// Command meta-service runs the raft-backed Metadata State Machine (spec
// §4.2) behind the control RPC, fanning cache-update events out to every
// known broker node through the Broker-Call Pipeline (spec §4.3). Flag
// parsing, config-file loading, and TLS material are external
// collaborators per spec.md §1; this binary takes its Options as a typed
// struct the way the teacher's broker.Service/consumer.Service do, rather
// than parsing a config file itself.
package main

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/robustmq/robustmq-sub002/internal/brokercall"
	"github.com/robustmq/robustmq-sub002/internal/clock"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/rpc"
)

// Options configures one meta-service node.
type Options struct {
	NodeID        uint64
	ListenAddr    string
	ClusterName   string
	SessionExpiry time.Duration
}

func main() {
	var opts = Options{
		NodeID:        1,
		ListenAddr:    ":9981",
		ClusterName:   "default",
		SessionExpiry: 30 * time.Second,
	}
	if err := run(opts); err != nil {
		log.WithError(err).Fatal("meta-service: exited")
	}
}

func run(opts Options) error {
	var wallClock clock.Clock = clock.Wall{}

	var dialer = func(addr string) (grpc.ClientConnInterface, error) {
		return grpc.NewClient(addr, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)))
	}
	var sender = rpc.NewBrokerInnerClient(dialer)
	var pipeline = brokercall.New(opts.NodeID, sender)

	var sm = metaservice.NewStateMachine(opts.NodeID, pipeline)
	defer sm.Close()

	var scanner = metaservice.NewSessionExpiryScanner(sm, opts.SessionExpiry, wallClock.NowUnix)
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go scanner.Run(ctx)

	var lis, err = net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return err
	}

	var server = grpc.NewServer()
	server.RegisterService(&rpc.MetaServiceDesc, &rpc.MetaServer{SM: sm})

	log.WithFields(log.Fields{"node_id": opts.NodeID, "addr": opts.ListenAddr}).Info("meta-service: listening")
	return server.Serve(lis)
}
