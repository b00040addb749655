package sink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/stackrox/fact/internal/bus"
	"github.com/stackrox/fact/internal/config"
	"github.com/stackrox/fact/internal/event"
	"github.com/stackrox/fact/internal/metrics"
	"github.com/stackrox/fact/internal/snapshot"
	factpb "github.com/stackrox/fact/proto"
)

// sinkNameGRPC labels every metric emitted by GRPCSink.
const sinkNameGRPC = "grpc"

// serverName is the fixed SNI presented to the remote sensor when mTLS is
// enabled, per SPEC_FULL.md §6.
const serverName = "sensor.stackrox.svc"

// userAgent is sent on every request the sink makes, per SPEC_FULL.md §6.
const userAgent = "Rox SFA Agent"

// reconnectBackoff is the gRPC sink's fixed reconnect cadence: 1 second,
// no jitter, no ceiling, per SPEC_FULL.md §4.7.
func reconnectBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Second)
}

// GRPCSink streams events over a client-streaming "communicate" RPC to a
// remote sensor. It is active iff its GRPCConfig snapshot has a non-empty
// URL; Run idles until that becomes true, reconnects on any stream error,
// and restarts the connection whenever the config snapshot changes.
type GRPCSink struct {
	logger  *slog.Logger
	metrics *metrics.Registry
	grpcCfg *snapshot.Snapshot[config.GRPCConfig]
}

// NewGRPCSink creates a GRPCSink. metricsReg may be nil in tests.
func NewGRPCSink(logger *slog.Logger, metricsReg *metrics.Registry, grpcCfg *snapshot.Snapshot[config.GRPCConfig]) *GRPCSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCSink{logger: logger, metrics: metricsReg, grpcCfg: grpcCfg}
}

// Run drives the sink's connect/stream/reconnect loop until ctx is
// cancelled. sub is this sink's independent bus subscription.
func (s *GRPCSink) Run(ctx context.Context, sub *bus.Subscription[*event.Event]) {
	for {
		if ctx.Err() != nil {
			return
		}

		cfg := s.grpcCfg.Get()
		if cfg.URL == "" {
			if !s.waitForEnable(ctx) {
				return
			}
			continue
		}

		if err := s.runOnce(ctx, sub, cfg); err != nil {
			s.logger.Warn("grpc sink: connection error, retrying", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBackoff().NextBackOff()):
			}
		}
	}
}

// waitForEnable blocks until the gRPC config gains a non-empty URL or ctx is
// cancelled. Returns false only when ctx was cancelled.
func (s *GRPCSink) waitForEnable(ctx context.Context) bool {
	for {
		changed := s.grpcCfg.Changed()
		select {
		case <-ctx.Done():
			return false
		case <-changed:
			if s.grpcCfg.Get().URL != "" {
				return true
			}
		}
	}
}

// runOnce performs one connect-and-stream attempt against cfg. It returns
// when the stream ends, the config snapshot changes, or ctx is cancelled.
// Run waits one reconnect backoff interval after an attempt that fails.
func (s *GRPCSink) runOnce(ctx context.Context, sub *bus.Subscription[*event.Event], cfg config.GRPCConfig) error {
	configChanged := s.grpcCfg.Changed()

	creds, err := buildCredentials(cfg)
	if err != nil {
		return fmt.Errorf("build TLS credentials: %w", err)
	}

	var conn *grpc.ClientConn
	bo := backoff.WithContext(reconnectBackoff(), ctx)
	err = backoff.Retry(func() error {
		s.logger.Info("grpc sink: attempting to connect", slog.String("url", cfg.URL))
		c, dialErr := grpc.NewClient(cfg.URL, grpc.WithTransportCredentials(creds))
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.Close()

	s.logger.Info("grpc sink: connected", slog.String("url", cfg.URL))

	client := factpb.NewFileActivityServiceClient(conn)
	streamCtx := metadata.AppendToOutgoingContext(ctx, "user-agent", userAgent)
	stream, err := client.Communicate(streamCtx)
	if err != nil {
		return fmt.Errorf("open communicate stream: %w", err)
	}

	var lastDropped uint64
	reportLag := func() {
		dropped := sub.Dropped()
		if n := dropped - lastDropped; n > 0 {
			s.logger.Warn("grpc sink lagged, dropped events", slog.Uint64("n", uint64(n)))
			if s.metrics != nil {
				s.metrics.SinkDropped(sinkNameGRPC, n)
			}
		}
		lastDropped = dropped
	}

	for {
		select {
		case <-ctx.Done():
			_, _ = stream.CloseAndRecv()
			return nil
		case <-configChanged:
			_, _ = stream.CloseAndRecv()
			return nil
		case evt, ok := <-sub.C:
			if !ok {
				_, _ = stream.CloseAndRecv()
				return nil
			}
			reportLag()

			msg := toFileActivity(evt)
			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			if s.metrics != nil {
				s.metrics.SinkAdded(sinkNameGRPC, 1)
			}
		}
	}
}

// buildCredentials constructs TLS transport credentials from cfg. An empty
// CertsDir means mTLS is disabled and the connection is made with plaintext
// credentials (the sensor is expected to be reachable only on a trusted
// network in that case).
func buildCredentials(cfg config.GRPCConfig) (credentials.TransportCredentials, error) {
	if cfg.CertsDir == "" {
		return insecure.NewCredentials(), nil
	}

	caPEM, err := os.ReadFile(filepath.Join(cfg.CertsDir, "ca.pem"))
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert: no certificates found")
	}

	clientCert, err := tls.LoadX509KeyPair(
		filepath.Join(cfg.CertsDir, "cert.pem"),
		filepath.Join(cfg.CertsDir, "key.pem"),
	)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key: %w", err)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// toFileActivity converts an internal event to its wire representation.
func toFileActivity(evt *event.Event) *factpb.FileActivity {
	msg := &factpb.FileActivity{
		TimestampNs: uint64(evt.Timestamp),
		Process:     toProcess(&evt.Process),
	}

	base := &factpb.BaseFileData{
		Filename: evt.File.Base.Filename,
		HostFile: evt.File.Base.HostFile,
		Inode:    evt.File.Base.Inode.Inode,
		Dev:      evt.File.Base.Inode.Dev,
	}

	switch evt.File.Kind {
	case event.KindOpen:
		msg.FileEvent = &factpb.FileActivity_Open{Open: &factpb.OpenEvent{Base: base}}
	case event.KindCreation:
		msg.FileEvent = &factpb.FileActivity_Creation{Creation: &factpb.CreationEvent{Base: base}}
	case event.KindUnlink:
		msg.FileEvent = &factpb.FileActivity_Unlink{Unlink: &factpb.UnlinkEvent{Base: base}}
	case event.KindChmod:
		msg.FileEvent = &factpb.FileActivity_Chmod{Chmod: &factpb.ChmodEvent{
			Base:    base,
			NewMode: uint32(evt.File.NewMode),
			OldMode: uint32(evt.File.OldMode),
		}}
	case event.KindChown:
		msg.FileEvent = &factpb.FileActivity_Chown{Chown: &factpb.ChownEvent{
			Base:   base,
			NewUid: evt.File.NewUID,
			NewGid: evt.File.NewGID,
			OldUid: evt.File.OldUID,
			OldGid: evt.File.OldGID,
		}}
	}
	return msg
}

func toProcess(p *event.Process) *factpb.Process {
	lineage := make([]*factpb.Lineage, 0, len(p.Lineage))
	for _, l := range p.Lineage {
		lineage = append(lineage, &factpb.Lineage{Uid: l.UID, ExePath: l.ExePath})
	}
	return &factpb.Process{
		Comm:          p.Comm,
		Args:          p.Args,
		ExePath:       p.ExePath,
		ContainerId:   p.ContainerID,
		Uid:           p.UID,
		Gid:           p.GID,
		LoginUid:      p.LoginUID,
		Pid:           p.PID,
		InRootMountNs: p.InRootMountNS,
		Lineage:       lineage,
	}
}
