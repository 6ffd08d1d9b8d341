package telephony

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/rtp"

	"github.com/rapidaai/mediastream/internal/config"
	"github.com/rapidaai/mediastream/internal/control"
	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
)

// pcmuPayloadType is the static RTP payload type for G.711 mu-law
// (PCMU), used unconditionally here since spec §4.8's telephone bridge is
// mu-law 8kHz both ways regardless of the signalling transport.
const pcmuPayloadType = 0

// sipAdapter is a raw-RTP telephone bridge: unlike Twilio/Vonage (which
// redirect to the shared WebSocket handler), a bare SIP trunk has no HTTP
// leg to redirect — the adapter itself negotiates SDP and bridges RTP.
type sipAdapter struct {
	logger       logging.Logger
	listenAddr   string
	handlerProto handler.Handler
	newEngine    EngineFactory

	server   *sipgo.Server
	portPool *rtpPortAllocator

	mu    sync.Mutex
	calls map[string]*rtpCall
}

func newSIPAdapter(logger logging.Logger, cfg *config.AppConfig, handlerProto handler.Handler, newEngine EngineFactory) *sipAdapter {
	return &sipAdapter{
		logger:       logger,
		listenAddr:   cfg.SIPListenAddr,
		handlerProto: handlerProto,
		newEngine:    newEngine,
		portPool:     newRTPPortAllocator(20000, 20200),
		calls:        make(map[string]*rtpCall),
	}
}

// ListenAndServe registers INVITE/BYE handlers and blocks serving SIP
// signalling over UDP until Close is called.
func (a *sipAdapter) ListenAndServe() {
	ua, err := sipgo.NewUA()
	if err != nil {
		a.logger.Errorf("telephony: sip ua: %v", err)
		return
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		a.logger.Errorf("telephony: sip server: %v", err)
		return
	}
	a.server = srv

	srv.OnInvite(a.handleInvite)
	srv.OnBye(a.handleBye)
	srv.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {})

	if err := srv.ListenAndServe(context.Background(), "udp", a.listenAddr); err != nil {
		a.logger.Errorf("telephony: sip listen: %v", err)
	}
}

func (a *sipAdapter) Close() error {
	if a.server == nil {
		return nil
	}
	return a.server.Close()
}

func (a *sipAdapter) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	remoteRTP, err := parseSDPAudioTarget(string(req.Body()))
	if err != nil {
		a.logger.Warnf("telephony: sip invite with unparseable sdp: %v", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}

	localPort, err := a.portPool.Allocate()
	if err != nil {
		a.logger.Errorf("telephony: no rtp ports available: %v", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil))
		return
	}

	call, err := newRTPCall(a.logger, localPort, remoteRTP, a.handlerProto, a.newEngine)
	if err != nil {
		a.portPool.Release(localPort)
		a.logger.Errorf("telephony: start rtp call: %v", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 500, "Internal Server Error", nil))
		return
	}

	callID := callIDFromRequest(req)
	a.mu.Lock()
	a.calls[callID] = call
	a.mu.Unlock()

	answerSDP := buildSDPAnswer(localAdvertisedIP(a.listenAddr), localPort)
	resp := sip.NewResponseFromRequest(req, 200, "OK", []byte(answerSDP))
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)
	if err := tx.Respond(resp); err != nil {
		a.logger.Warnf("telephony: sip respond: %v", err)
	}

	go call.Run()
}

func (a *sipAdapter) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDFromRequest(req)
	a.mu.Lock()
	call, ok := a.calls[callID]
	if ok {
		delete(a.calls, callID)
	}
	a.mu.Unlock()

	if ok {
		call.Close()
		a.portPool.Release(call.localPort)
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}

func callIDFromRequest(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return req.String()
}

// rtpCall bridges one SIP call's RTP audio (PCMU) to a handler.Runtime the
// same way WebSocketBridge bridges WS media frames — same runtime, same
// handler.Session, different wire encoding.
type rtpCall struct {
	logger    logging.Logger
	conn      *net.UDPConn
	remote    *net.UDPAddr
	localPort int
	runtime   *handler.Runtime

	seq     uint16
	ts      uint32
	closing atomic.Bool
}

func newRTPCall(logger logging.Logger, localPort int, remote *net.UDPAddr, handlerProto handler.Handler, newEngine EngineFactory) (*rtpCall, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("telephony: listen rtp: %w", err)
	}

	rt := handler.NewRuntime(logger,
		handler.WithInputAudioConfig(handler.AudioConfig{SampleRate: 8000, Format: handler.FormatMuLaw8, Channels: 1}),
		handler.WithOutputAudioConfig(handler.AudioConfig{SampleRate: 8000, Format: handler.FormatMuLaw8, Channels: 1}),
	)

	call := &rtpCall{logger: logger, conn: conn, remote: remote, localPort: localPort, runtime: rt}

	driver := handlerProto
	audioParams := handlerProto.Properties()
	if newEngine != nil {
		channel := control.NewLogOnlyChannel(logger)
		sink := control.NewEngineSink(logger, channel, rt, encodeMulawFrame)
		// SIP calls have no external input hook to address by session id,
		// so the snapshot is always empty — a phone-originated turn never
		// carries extra generator arguments (spec §4.5's phone_mode rule).
		eng := newEngine(sink, func() []any { return nil })
		driver = eng.AsHandler(audioParams)
	}

	handlerSession := handler.NewSession(logger, driver, rt, decodeMulawFrame, encodeMulawFrame)
	go handlerSession.Run(rt.Ctx)

	return call, nil
}

// Run drives RTP receive (peer -> runtime input) until the socket closes;
// Close stops both directions.
func (c *rtpCall) Run() {
	go c.writeLoop()

	buf := make([]byte, 1500)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if pkt.PayloadType != pcmuPayloadType {
			continue
		}
		c.runtime.BufferAndSendInput(append([]byte(nil), pkt.Payload...))
	}
}

func (c *rtpCall) writeLoop() {
	for {
		select {
		case <-c.runtime.Ctx.Done():
			return
		case out, ok := <-c.runtime.OutputCh:
			if !ok {
				return
			}
			c.writeRTP(out.Audio)
			c.runtime.ReleaseOutbound(out)
		}
	}
}

func (c *rtpCall) writeRTP(mulaw []byte) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pcmuPayloadType,
			SequenceNumber: c.seq,
			Timestamp:      c.ts,
			SSRC:           uint32(c.localPort),
		},
		Payload: mulaw,
	}
	c.seq++
	c.ts += uint32(len(mulaw))

	body, err := pkt.Marshal()
	if err != nil {
		return
	}
	if _, err := c.conn.WriteToUDP(body, c.remote); err != nil {
		c.logger.Warnf("telephony: write rtp: %v", err)
	}
}

func (c *rtpCall) Close() {
	if c.closing.CompareAndSwap(false, true) {
		c.runtime.Cancel()
		c.conn.Close()
	}
}

func decodeMulawFrame(b []byte) media.AudioFrame {
	return media.AudioFrame{SampleRate: 8000, Channels: 1, Samples: media.MulawToPCM(b)}
}

func encodeMulawFrame(f media.AudioFrame) []byte {
	return media.PCMToMulaw(f.Samples)
}

// rtpPortAllocator hands out UDP ports from a fixed range for SIP media,
// grounded on the teacher's rtp_port_allocator.go concept of a bounded
// pool instead of letting the OS pick an ephemeral port per call.
type rtpPortAllocator struct {
	mu       sync.Mutex
	low      int
	high     int
	next     int
	inUse    map[int]bool
}

func newRTPPortAllocator(low, high int) *rtpPortAllocator {
	return &rtpPortAllocator{low: low, high: high, next: low, inUse: make(map[int]bool)}
}

func (p *rtpPortAllocator) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i <= p.high-p.low; i++ {
		port := p.low + (p.next-p.low+i)%(p.high-p.low+1)
		if !p.inUse[port] {
			p.inUse[port] = true
			p.next = port + 1
			return port, nil
		}
	}
	return 0, fmt.Errorf("telephony: rtp port range %d-%d exhausted", p.low, p.high)
}

func (p *rtpPortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

// parseSDPAudioTarget extracts the remote RTP endpoint from a minimal SDP
// offer body ("c=IN IP4 <addr>" + "m=audio <port> RTP/AVP ...").
func parseSDPAudioTarget(sdp string) (*net.UDPAddr, error) {
	var ip string
	var port int
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "c=IN IP4 "):
			ip = strings.TrimSpace(strings.TrimPrefix(line, "c=IN IP4 "))
		case strings.HasPrefix(line, "m=audio "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			p, err := strconv.Atoi(fields[1])
			if err == nil {
				port = p
			}
		}
	}
	if ip == "" || port == 0 {
		return nil, fmt.Errorf("telephony: sdp missing audio connection info")
	}
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}, nil
}

// buildSDPAnswer produces a minimal PCMU-only SDP answer.
func buildSDPAnswer(localIP string, localPort int) string {
	return "v=0\r\n" +
		"o=- 0 0 IN IP4 " + localIP + "\r\n" +
		"s=mediastream\r\n" +
		"c=IN IP4 " + localIP + "\r\n" +
		"t=0 0\r\n" +
		"m=audio " + strconv.Itoa(localPort) + " RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=sendrecv\r\n"
}

func localAdvertisedIP(listenAddr string) string {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil || host == "" || host == "0.0.0.0" {
		return "127.0.0.1"
	}
	return host
}
