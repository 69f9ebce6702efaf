// Command rdcast-client is a headless driver of the streaming core: it
// dials a rdcastd server over WebTransport, completes the discovery
// handshake, and drains video/audio/control traffic through the playback
// schedulers. Rendering and device I/O are external collaborators (see
// DESIGN.md); this binary logs presented video frames and audio format
// changes instead of handing them off, and discards audio payloads.
//
// Grounded on rustyguts-bken/client/transport.go's webtransport.Dialer
// setup (InsecureSkipVerify self-signed cert, EnableDatagrams, dial
// timeout separate from the session-scoped context) and
// server/main.go's flag/signal/log shape, mirrored for the client role.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"

	"rdcast/bitrate"
	"rdcast/config"
	"rdcast/discovery"
	"rdcast/playback"
	"rdcast/reassembly"
	"rdcast/session"
	"rdcast/transport"
	"rdcast/wire"
)

const connectTimeout = 10 * time.Second

func main() {
	addr := flag.String("addr", "localhost:9443", "rdcastd WebTransport address")
	keyHex := flag.String("key", "", "AES-128 session key (32 hex chars, or 16 raw bytes)")
	userID := flag.Uint64("user-id", 1, "client-chosen user identifier advertised in the discovery handshake")
	flag.Parse()

	key, err := config.ParseKey(*keyHex)
	if err != nil {
		log.Fatalf("[rdcast-client] key: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[rdcast-client] shutting down...")
		cancel()
	}()

	if err := run(ctx, *addr, key, uint32(*userID)); err != nil {
		log.Fatalf("[rdcast-client] %v", err)
	}
}

func run(ctx context.Context, addr string, key []byte, userID uint32) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, connectTimeout)
	defer dialCancel()

	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // rdcastd mints its own self-signed cert
		QUICConfig: &quic.Config{
			EnableDatagrams: true,
		},
	}
	_, wtSession, err := d.Dial(dialCtx, "https://"+addr+"/rdcast", http.Header{})
	if err != nil {
		return err
	}

	ctrlStream, err := wtSession.OpenStream()
	if err != nil {
		return err
	}
	ctrlSock := transport.NewReliable(ctrlStream)
	ctrlSock.SetTimeout(5 * time.Second)

	if err := discovery.SendRequest(ctrlSock, discovery.Request{
		UserID:       userID,
		Capabilities: discovery.CapAudio | discovery.CapVideo,
	}); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	reply, err := discovery.RecvReply(ctrlSock, buf)
	if err != nil {
		return err
	}
	log.Printf("[rdcast-client] connected as client %d, connection %d", reply.ClientID, reply.ConnectionID)

	orch := session.New()
	peer, err := orch.Create(session.NewPeerConfig{
		Reliable: ctrlSock,
		Datagram: transport.NewDatagram(wtSession),
		Key:      key,
		Sinks: session.RenderSinks{
			Audio:     logAudioSink{},
			Video:     logVideoSink{},
			Keyframer: controlKeyframer{ctrlSock},
		},
		InitialBPS:    5_000_000,
		BitrateConfig: bitrate.DefaultConfig(),
	})
	if err != nil {
		return err
	}
	defer orch.Close(peer.ID)

	go runReceiveLoop(ctx, peer)
	go runNackLoop(ctx, peer, ctrlSock)
	go runPingLoop(ctx, peer, ctrlSock)
	runSchedulerLoop(ctx, peer)
	return nil
}

// runReceiveLoop reads datagrams off the wire, decodes and decrypts each
// segment, and installs it into the matching ring buffer.
func runReceiveLoop(ctx context.Context, peer *session.Peer) {
	buf := make([]byte, wire.MaxPayload+64)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := peer.Datagram.Recv(buf)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			return
		}
		seg, err := wire.DecodeDatagram(peer.Cipher, buf[:n])
		if err != nil {
			continue
		}
		now := time.Now()
		switch seg.Stream {
		case wire.StreamVideo:
			peer.VideoBuf.Receive(seg, now)
		case wire.StreamAudio:
			peer.AudioBuf.Receive(seg, now)
		}
	}
}

// runNackLoop periodically asks each stream's NACK engine for gaps to
// report and sends one NACK control message for each gap the engines
// return (each engine caps how many it returns per scan).
func runNackLoop(ctx context.Context, peer *session.Peer, ctrlSock *transport.Reliable) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, n := range peer.VideoNack.Tick(now) {
				sendNACK(ctrlSock, n)
			}
			for _, n := range peer.AudioNack.Tick(now) {
				sendNACK(ctrlSock, n)
			}
		}
	}
}

func sendNACK(ctrlSock *transport.Reliable, n wire.NACK) {
	msg, err := wire.EncodeControl(n)
	if err != nil {
		return
	}
	ctrlSock.Send(msg)
}

// runPingLoop keeps the peer's liveness watermark moving on the server
// side, and is itself a convenient point for the client to learn it is
// still connected (a send error here means the session is gone).
func runPingLoop(ctx context.Context, peer *session.Peer, ctrlSock *transport.Reliable) {
	ticker := time.NewTicker(session.LivenessWindow / 3)
	defer ticker.Stop()
	var id uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg, err := wire.EncodeControl(wire.Ping{ID: id})
			id++
			if err != nil {
				continue
			}
			if err := ctrlSock.Send(msg); err != nil {
				return
			}
		}
	}
}

// runSchedulerLoop drains the audio and video playback schedulers on the
// calling goroutine until ctx is done.
func runSchedulerLoop(ctx context.Context, peer *session.Peer) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := peer.AudioSched.Tick(); err != nil {
				log.Printf("[rdcast-client] audio scheduler: %v", err)
			}
			if err := peer.VideoSched.Tick(time.Now()); err != nil {
				log.Printf("[rdcast-client] video scheduler: %v", err)
			}
		}
	}
}

// logAudioSink and logVideoSink stand in for the platform audio device and
// frame buffer a real client wires up. logVideoSink logs each presented
// frame; logAudioSink logs format changes and drops pushed audio without
// logging it. See DESIGN.md on why device I/O stays an external interface.
type logAudioSink struct{}

func (logAudioSink) Push(payload []byte) error { return nil }
func (logAudioSink) Reconfigure(format playback.AudioFormat) error {
	log.Printf("[rdcast-client] audio reconfigured: %+v", format)
	return nil
}

type logVideoSink struct{}

func (logVideoSink) Render(frame reassembly.Frame, present bool) error {
	if present {
		log.Printf("[rdcast-client] render frame %d (%d bytes)", frame.FrameID, len(frame.Payload))
	}
	return nil
}

type controlKeyframer struct {
	ctrlSock *transport.Reliable
}

func (k controlKeyframer) RequestKeyframe(reinitialize bool) error {
	msg, err := wire.EncodeControl(wire.KeyframeRequest{Reinitialize: reinitialize})
	if err != nil {
		return err
	}
	return k.ctrlSock.Send(msg)
}
