// Package signalling implements Signalling/Negotiation (C8): SDP
// offer/answer over HTTP and start/media/stop framing over WebSocket,
// grounded on the teacher's GrpcStreamer peer-connection setup
// (createPeerConnection/setupPeerEventHandlers/readRemoteAudio) adapted
// from gRPC-driven signalling to the spec's client-offer/server-answer
// HTTP flow.
package signalling

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	webrtcpkg "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/rapidaai/mediastream/internal/config"
	mstream "github.com/rapidaai/mediastream/internal/media"

	internalhandler "github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
)

// Modality and Mode mirror spec.md §6's handler configuration surface.
type Modality int

const (
	ModalityAudio Modality = iota
	ModalityVideo
	ModalityAudioVideo
)

type Mode int

const (
	ModeSendReceive Mode = iota
	ModeSend
	ModeReceive
)

const (
	opusSampleRate = 48000
	opusFrameMs    = 20
)

// Offer is the decoded body of POST /webrtc/offer (spec.md §6).
type Offer struct {
	SDP      string
	Type     string
	WebrtcID string
}

// Answer is the encoded response body for a successful negotiation.
type Answer struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	WebrtcID string `json:"webrtc_id"`
}

// PeerSession owns one WebRTC peer connection's media plumbing, bridging
// Opus RTP in/out to the session's handler.Runtime as raw PCM16 bytes
// normalized to the handler's declared AudioParams by an AudioCodec (C1).
type PeerSession struct {
	logger  logging.Logger
	runtime *internalhandler.Runtime

	pc         *webrtcpkg.PeerConnection
	localTrack *webrtcpkg.TrackLocalStaticSample
	dataChan   *webrtcpkg.DataChannel

	channels      int
	params        mstream.AudioParams
	codec         *mstream.AudioCodec
	outboundCodec *mstream.OpusCodec

	mu      sync.Mutex
	started bool
}

// codecNotifier surfaces media.AudioCodec warnings/errors through the
// session's logger; the WebRTC data channel used for client-visible control
// messages may not exist yet at codec-construction time, so this stays a
// plain log sink rather than a control.Channel adapter.
type codecNotifier struct {
	logger logging.Logger
}

func (n *codecNotifier) Warning(text string) { n.logger.Warnf("signalling: %s", text) }
func (n *codecNotifier) Error(text string)   { n.logger.Errorf("signalling: %s", text) }

// opusChannelCount derives the Opus channel count to negotiate from the
// handler's declared layout, so the SDP-advertised channel count and the
// codec actually encoding/decoding audio never disagree.
func opusChannelCount(params mstream.AudioParams) int {
	if params.ChannelLayout == mstream.Stereo {
		return 2
	}
	return 1
}

// NewPeerConnection builds a Pion peer connection configured with the
// ICE servers from cfg and an Opus audio track, matching
// createPeerConnection's media engine registration. params is the bound
// handler's declared AudioParams (spec §4.1), used to build the AudioCodec
// that normalizes between the handler's rates and WebRTC's fixed 48kHz Opus.
func NewPeerConnection(logger logging.Logger, cfg *config.AppConfig, runtime *internalhandler.Runtime, params mstream.AudioParams, modality Modality, mode Mode) (*PeerSession, error) {
	channels := opusChannelCount(params)

	mediaEngine := &webrtcpkg.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtcpkg.RTPCodecParameters{
		RTPCodecCapability: webrtcpkg.RTPCodecCapability{
			MimeType:    webrtcpkg.MimeTypeOpus,
			ClockRate:   opusSampleRate,
			Channels:    uint16(channels),
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtcpkg.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("signalling: register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtcpkg.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("signalling: register interceptors: %w", err)
	}

	api := webrtcpkg.NewAPI(webrtcpkg.WithMediaEngine(mediaEngine), webrtcpkg.WithInterceptorRegistry(registry))

	iceServers := make([]webrtcpkg.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		iceServers = append(iceServers, webrtcpkg.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}

	pc, err := api.NewPeerConnection(webrtcpkg.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("signalling: new peer connection: %w", err)
	}

	outboundCodec, err := mstream.NewOpusCodec(opusSampleRate, channels)
	if err != nil {
		pc.Close()
		return nil, err
	}

	ps := &PeerSession{
		logger:        logger,
		runtime:       runtime,
		pc:            pc,
		channels:      channels,
		params:        params,
		codec:         mstream.NewAudioCodec(logger, &codecNotifier{logger: logger}, opusSampleRate, params),
		outboundCodec: outboundCodec,
	}

	if modality != ModalityVideo {
		if mode != ModeSend {
			track, err := webrtcpkg.NewTrackLocalStaticSample(
				webrtcpkg.RTPCodecCapability{MimeType: webrtcpkg.MimeTypeOpus, ClockRate: opusSampleRate, Channels: uint16(channels)},
				"audio", "mediastream",
			)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("signalling: create local track: %w", err)
			}
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, fmt.Errorf("signalling: add track: %w", err)
			}
			ps.localTrack = track
		}
		if mode != ModeReceive {
			if _, err := pc.AddTransceiverFromKind(webrtcpkg.RTPCodecTypeAudio, webrtcpkg.RTPTransceiverInit{Direction: webrtcpkg.RTPTransceiverDirectionRecvonly}); err != nil {
				pc.Close()
				return nil, fmt.Errorf("signalling: add transceiver: %w", err)
			}
		}
	}

	ps.wireEvents(mode)
	return ps, nil
}

func (ps *PeerSession) wireEvents(mode Mode) {
	ps.pc.OnICEConnectionStateChange(func(state webrtcpkg.ICEConnectionState) {
		ps.logger.Debugf("signalling: ice state %s", state)
	})

	ps.pc.OnDataChannel(func(dc *webrtcpkg.DataChannel) {
		ps.mu.Lock()
		ps.dataChan = dc
		ps.mu.Unlock()
	})

	if mode != ModeReceive {
		ps.pc.OnTrack(func(track *webrtcpkg.TrackRemote, _ *webrtcpkg.RTPReceiver) {
			if track.Kind() != webrtcpkg.RTPCodecTypeAudio {
				return
			}
			go ps.readRemoteAudio(track)
		})
	}

	if mode != ModeSend {
		ps.mu.Lock()
		started := ps.started
		ps.started = true
		ps.mu.Unlock()
		if !started {
			go ps.runOutboundPump()
		}
	}
}

// readRemoteAudio decodes inbound Opus RTP packets into PCM16, normalizes
// them to the handler's declared input rate/layout via the AudioCodec (C1),
// and buffers them onto the runtime's input accumulator (spec §4.8's
// receive path).
func (ps *PeerSession) readRemoteAudio(track *webrtcpkg.TrackRemote) {
	decoder, err := mstream.NewOpusCodec(opusSampleRate, ps.channels)
	if err != nil {
		ps.logger.Errorf("signalling: build inbound opus decoder: %v", err)
		return
	}
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				ps.logger.Warnf("signalling: track read: %v", err)
			}
			return
		}
		pcm, err := decoder.Decode(buf[:n])
		if err != nil {
			ps.logger.Warnf("signalling: opus decode: %v", err)
			continue
		}
		decoded, err := ps.codec.DecodeInbound(mstream.AudioFrame{SampleRate: opusSampleRate, Channels: ps.channels, Samples: pcm})
		if err != nil {
			continue
		}
		ps.runtime.BufferAndSendInput(int16SliceToBytes(decoded.Samples))
	}
}

// runOutboundPump drains the runtime's output channel, resamples/reframes
// each PCM16 frame from the handler's declared output rate back to 48kHz
// via the AudioCodec, Opus-encodes it, and writes it to the local track.
func (ps *PeerSession) runOutboundPump() {
	frameDur := time.Duration(opusFrameMs) * time.Millisecond
	outChannels := 1
	if ps.params.ChannelLayout == mstream.Stereo {
		outChannels = 2
	}
	for {
		select {
		case <-ps.runtime.Ctx.Done():
			return
		case out, ok := <-ps.runtime.OutputCh:
			if !ok {
				return
			}
			pcm := bytesToInt16Slice(out.Audio)
			frame := mstream.AudioFrame{SampleRate: ps.params.OutputSampleRate, Channels: outChannels, Samples: pcm}
			for _, peerPCM := range ps.codec.EncodeOutbound(frame, opusSampleRate, false) {
				payload, err := ps.outboundCodec.Encode(peerPCM)
				if err != nil {
					ps.logger.Warnf("signalling: opus encode: %v", err)
					continue
				}
				if ps.localTrack != nil {
					if err := ps.localTrack.WriteSample(media.Sample{Data: payload, Duration: frameDur}); err != nil {
						ps.logger.Warnf("signalling: write sample: %v", err)
					}
				}
			}
			ps.runtime.ReleaseOutbound(out)
		}
	}
}

// NegotiationTimeout bounds ICE gathering / peer acceptance per spec §5:
// a negotiation that hasn't settled within this window is abandoned rather
// than left to hang indefinitely.
const NegotiationTimeout = 5 * time.Second

// Negotiate sets the remote offer, creates and sets the local answer, and
// waits for ICE gathering to settle before returning it. The wait is capped
// at NegotiationTimeout regardless of ctx's own deadline; a timeout returns
// context.DeadlineExceeded so the caller can emit connection_timeout.
func (ps *PeerSession) Negotiate(ctx context.Context, offer Offer) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, NegotiationTimeout)
	defer cancel()

	if err := ps.pc.SetRemoteDescription(webrtcpkg.SessionDescription{Type: webrtcpkg.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return "", fmt.Errorf("signalling: set remote description: %w", err)
	}

	answer, err := ps.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("signalling: create answer: %w", err)
	}

	gatherComplete := webrtcpkg.GatheringCompletePromise(ps.pc)
	if err := ps.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("signalling: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return ps.pc.LocalDescription().SDP, nil
}

// DataChannel returns the negotiated "text" data channel once the peer
// has opened it, or nil if none has arrived yet.
func (ps *PeerSession) DataChannel() *webrtcpkg.DataChannel {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.dataChan
}

// Close tears down the underlying peer connection.
func (ps *PeerSession) Close() error {
	return ps.pc.Close()
}

func int16SliceToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func bytesToInt16Slice(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}
