// Command rdcastd is the remote desktop streaming daemon: it captures
// (via an external encoder collaborator) and streams video and audio to
// connecting clients over QUIC/WebTransport, reassembling and acting on
// whatever NACKs and control traffic the client sends back.
//
// Grounded on rustyguts-bken/server/main.go's flag parsing, signal
// handling and goroutine-per-service startup shape; the WebTransport
// listener setup is new (bken's own server dials gorilla/websocket
// instead, dropped here in favor of the datagram-capable transport
// already wired for the media path; see DESIGN.md).
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"rdcast/bitrate"
	"rdcast/config"
	"rdcast/discovery"
	"rdcast/metrics"
	"rdcast/session"
	"rdcast/transport"
	"rdcast/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a rdcastd.yaml configuration file")
	listen := flag.String("listen", ":9443", "WebTransport listen address")
	keyHex := flag.String("key", "", "AES-128 session key (32 hex chars, or 16 raw bytes)")
	initialBitrate := flag.Int64("initial-bitrate", 5_000_000, "initial target bitrate in bits per second")
	metricsEnabled := flag.Bool("metrics", false, "serve Prometheus metrics and /healthz")
	metricsListen := flag.String("metrics-listen", "127.0.0.1:9090", "metrics HTTP listen address")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	dscp := flag.String("dscp", "EF", "DSCP marking applied to the media UDP socket (EF, AF1x-AF4x, CSx, or empty to disable)")
	flag.Parse()

	cfg, err := loadOrBuildConfig(*configPath, *listen, *keyHex, *initialBitrate, *metricsEnabled, *metricsListen, *dscp)
	if err != nil {
		log.Fatalf("[rdcastd] %v", err)
	}

	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, "")
	if err != nil {
		log.Fatalf("[rdcastd] %v", err)
	}
	log.Printf("[rdcastd] TLS certificate fingerprint: %s", fingerprint)

	orch := session.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[rdcastd] shutting down...")
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Listen, orch)
		go func() {
			if err := metricsSrv.Run(ctx); err != nil {
				log.Printf("[metrics] %v", err)
			}
		}()
		log.Printf("[metrics] listening on %s", cfg.Metrics.Listen)
	}

	go livenessLoop(ctx, orch, cfg.LivenessWindow)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		log.Fatalf("[rdcastd] resolve %s: %v", cfg.Listen, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatalf("[rdcastd] listen %s: %v", cfg.Listen, err)
	}
	if dscp, err := transport.ParseDSCP(cfg.DSCP); err != nil {
		log.Fatalf("[rdcastd] %v", err)
	} else if err := transport.ApplyDSCP(udpConn, dscp); err != nil {
		log.Printf("[rdcastd] dscp: %v (continuing without traffic prioritization)", err)
	}

	wt := &webtransport.Server{
		H3: http3.Server{
			TLSConfig: tlsConfig,
			QUICConfig: &quic.Config{
				EnableDatagrams: true,
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rdcast", func(w http.ResponseWriter, r *http.Request) {
		acceptSession(ctx, wt, w, r, orch, cfg)
	})
	wt.H3.Handler = mux

	log.Printf("[rdcastd] listening on %s", cfg.Listen)
	if err := wt.H3.Serve(udpConn); err != nil {
		log.Fatalf("[rdcastd] %v", err)
	}
}

// loadOrBuildConfig loads a YAML config file when one is given, otherwise
// builds a Config directly from flags for quick local runs.
func loadOrBuildConfig(path, listen, keyHex string, initialBitrate int64, metricsEnabled bool, metricsListen, dscp string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	key, err := config.ParseKey(keyHex)
	if err != nil {
		return nil, err
	}
	if _, err := transport.ParseDSCP(dscp); err != nil {
		return nil, err
	}
	return &config.Config{
		Listen:         listen,
		InitialBitrate: initialBitrate,
		LivenessWindow: session.LivenessWindow,
		Key:            key,
		DSCP:           dscp,
		Metrics: config.MetricsConfig{
			Enabled: metricsEnabled,
			Listen:  metricsListen,
		},
	}, nil
}

// livenessLoop periodically sweeps the orchestrator for peers that have
// stopped pinging.
func livenessLoop(ctx context.Context, orch *session.Orchestrator, window time.Duration) {
	ticker := time.NewTicker(window / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			orch.Tick(now, window)
		}
	}
}

// acceptSession upgrades an incoming HTTP request to a WebTransport
// session, runs the discovery handshake on its first stream, registers the
// peer, starts its control and encode loops, and closes the peer once ctx
// is done.
func acceptSession(ctx context.Context, wt *webtransport.Server, w http.ResponseWriter, r *http.Request, orch *session.Orchestrator, cfg *config.Config) {
	wtSession, err := wt.Upgrade(w, r)
	if err != nil {
		log.Printf("[rdcastd] upgrade: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ctrlStream, err := wtSession.AcceptStream(ctx)
	if err != nil {
		log.Printf("[rdcastd] accept control stream: %v", err)
		return
	}
	ctrlSock := transport.NewReliable(ctrlStream)
	ctrlSock.SetTimeout(5 * time.Second)

	buf := make([]byte, 4096)
	req, err := discovery.RecvRequest(ctrlSock, buf)
	if err != nil {
		log.Printf("[rdcastd] discovery handshake: %v", err)
		ctrlSock.Close()
		return
	}

	peer, err := orch.Create(session.NewPeerConfig{
		Reliable: ctrlSock,
		Datagram: transport.NewDatagram(wtSession),
		Key:      cfg.Key,
		Sinks: session.RenderSinks{
			Audio:     discardAudioSink{},
			Video:     discardVideoSink{},
			Keyframer: discardKeyframer{},
		},
		InitialBPS:    cfg.InitialBitrate,
		BitrateConfig: bitrate.DefaultConfig(),
	})
	if err != nil {
		log.Printf("[rdcastd] create peer: %v", err)
		ctrlSock.Close()
		return
	}

	if err := discovery.SendReply(ctrlSock, discovery.Reply{
		ClientID:        peer.ID,
		ConnectionID:    peer.ConnectionID,
		AudioSampleRate: 48000,
	}); err != nil {
		log.Printf("[rdcastd] discovery reply: %v", err)
		orch.Close(peer.ID)
		return
	}

	log.Printf("[rdcastd] peer %d connected (capabilities=%#x)", peer.ID, req.Capabilities)

	peerCtx, peerCancel := context.WithCancel(ctx)
	defer peerCancel()

	go runControlLoop(peerCtx, peer, ctrlSock)
	go runVideoEncodeLoop(peerCtx, peer, newToneEncoder(33*time.Millisecond, 4096, 60))
	go runAudioEncodeLoop(peerCtx, peer, newToneGenerator(20*time.Millisecond, 320))

	<-peerCtx.Done()
	orch.Close(peer.ID)
}

// runVideoEncodeLoop pulls frames from enc and pushes them through the
// peer's video segmenter until ctx is done.
func runVideoEncodeLoop(ctx context.Context, peer *session.Peer, enc *toneEncoder) {
	var id int32
	for {
		payload, _, err := enc.NextFrame(ctx)
		if err != nil {
			return
		}
		target := peer.Bitrate.Target()
		if err := peer.VideoSeg.Emit(payload, id, wire.StreamVideo, target); err != nil {
			log.Printf("[rdcastd] peer %d video emit: %v", peer.ID, err)
		}
		id++
	}
}

// runAudioEncodeLoop mirrors runVideoEncodeLoop for the audio stream.
func runAudioEncodeLoop(ctx context.Context, peer *session.Peer, gen *toneGenerator) {
	var id int32
	for {
		payload, err := gen.NextFrame(ctx)
		if err != nil {
			return
		}
		if err := peer.AudioSeg.Emit(payload, id, wire.StreamAudio, 0); err != nil {
			log.Printf("[rdcastd] peer %d audio emit: %v", peer.ID, err)
		}
		id++
	}
}

// runControlLoop reads control messages off the reliable socket: pings are
// answered immediately, and NACKs are resolved against the segmenter's
// retained-frame cache and resent as fresh datagrams. Every other message
// type, keyframe requests included, is read and ignored.
func runControlLoop(ctx context.Context, peer *session.Peer, ctrlSock *transport.Reliable) {
	buf := make([]byte, 4096)
	nackWindow := time.Now()
	nackCount := 0

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := ctrlSock.Recv(buf)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			return
		}
		msg, err := wire.DecodeControl(buf[:n])
		if err != nil {
			continue
		}

		switch m := msg.(type) {
		case wire.Ping:
			peer.Touch(time.Now())
			reply, err := wire.EncodeControl(wire.Pong{ID: m.ID})
			if err == nil {
				ctrlSock.Send(reply)
			}
		case wire.NACK:
			nackCount++
			seg := peer.VideoSeg
			if m.Stream == wire.StreamAudio {
				seg = peer.AudioSeg
			}
			if raw, ok := seg.HandleNACK(m.FrameID, m.Index); ok {
				peer.Datagram.Send(raw)
			}
		}

		if elapsed := time.Since(nackWindow); elapsed >= bitrate.DefaultWindow {
			res := peer.Bitrate.Evaluate(nackCount, elapsed)
			nackCount = 0
			nackWindow = time.Now()
			if res.Reconfigure {
				log.Printf("[rdcastd] peer %d bitrate -> target=%d working=%d", peer.ID, res.Target, res.Working)
			}
		}
	}
}
