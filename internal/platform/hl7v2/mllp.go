package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/ingest"
)

const (
	mllpStartBlock     = 0x0B
	mllpEndBlock       = 0x1C
	mllpCarriageReturn = 0x0D

	mllpMaxMessageSize = 1 << 20
	mllpReadTimeout    = 30 * time.Second
)

// Ingester applies one mapped message. *ingest.Processor satisfies this.
type Ingester interface {
	Process(ctx context.Context, msg ingest.Message) error
}

// MLLPServer accepts MLLP-framed HL7v2 over TCP, maps each message and feeds
// it to the ingester. Every message is answered: AA when applied or dropped
// by design, AE when processing failed and the sender should retry, AR when
// the message could not be parsed at all.
type MLLPServer struct {
	addr     string
	mapper   *Mapper
	ingester Ingester
	logger   zerolog.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewMLLPServer(addr string, mapper *Mapper, ingester Ingester, logger zerolog.Logger) *MLLPServer {
	return &MLLPServer{
		addr:     addr,
		mapper:   mapper,
		ingester: ingester,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins listening. The accept loop runs in a background goroutine.
func (s *MLLPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("mllp listener started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// handler goroutines to drain.
func (s *MLLPServer) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound address, useful when listening on port 0.
func (s *MLLPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *MLLPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error().Err(err).Msg("mllp accept failed")
			}
			return
		}

		s.trackConn(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *MLLPServer) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *MLLPServer) handleConnection(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(mllpReadTimeout))
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if len(buf) > mllpMaxMessageSize {
				s.logger.Warn().Msg("mllp message exceeds max size, closing connection")
				return
			}
			for {
				raw, rest, found := Unframe(buf)
				if !found {
					break
				}
				buf = rest
				s.respond(conn, s.processMessage(raw))
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if len(buf) == 0 {
					return
				}
				continue
			}
			return
		}
	}
}

// processMessage parses, maps and applies one message and returns the ACK to
// send back. Delivery semantics live here: only a processing failure asks the
// sender to redeliver.
func (s *MLLPServer) processMessage(raw []byte) *Message {
	msg, err := Parse(raw, s.mapper.Location)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unparseable hl7 message rejected")
		return GenerateACK(&Message{Version: "2.4"}, "AR")
	}

	mapped, err := s.mapper.MapADT(msg)
	if err != nil {
		if errors.Is(err, fault.ErrMessageIgnored) {
			s.logger.Debug().Str("type", msg.Type).Msg("hl7 message not consumed")
			return GenerateACK(msg, "AA")
		}
		s.logger.Error().Err(err).Str("type", msg.Type).Str("control_id", msg.ControlID).
			Msg("hl7 message could not be mapped")
		return GenerateACK(msg, "AR")
	}

	ctx := s.logger.With().Str("control_id", msg.ControlID).Logger().WithContext(context.Background())
	if err := s.ingester.Process(ctx, mapped); err != nil {
		return GenerateACK(msg, "AE")
	}
	return GenerateACK(msg, "AA")
}

func (s *MLLPServer) respond(conn net.Conn, ack *Message) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(Frame(Serialize(ack))); err != nil {
		s.logger.Error().Err(err).Msg("mllp ack write failed")
	}
}

// Frame wraps raw HL7 bytes in MLLP framing: <VT> message <FS><CR>.
func Frame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, mllpStartBlock)
	frame = append(frame, data...)
	frame = append(frame, mllpEndBlock, mllpCarriageReturn)
	return frame
}

// Unframe extracts one message from an MLLP byte stream. It returns the
// message, the remaining bytes, and whether a complete frame was found.
func Unframe(data []byte) (message, rest []byte, found bool) {
	start := bytes.IndexByte(data, mllpStartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{mllpEndBlock, mllpCarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end = start + 1 + end
	return data[start+1 : end], data[end+2:], true
}

// GenerateACK builds the ACK for an incoming message. ackCode is AA, AE or
// AR. Sender and receiver swap; MSA-2 echoes the original control ID.
func GenerateACK(incoming *Message, ackCode string) *Message {
	trigger := incoming.Trigger
	if trigger == "" {
		if parts := strings.SplitN(incoming.Type, "^", 2); len(parts) == 2 {
			trigger = parts[1]
		}
	}

	now := time.Now().UTC()
	timestamp := now.Format("20060102150405")
	controlID := "ACK" + now.Format("20060102150405.000")

	ack := &Message{
		Type:         "ACK^" + trigger,
		Trigger:      trigger,
		ControlID:    controlID,
		Version:      incoming.Version,
		Timestamp:    now,
		SendingApp:   incoming.ReceivingApp,
		SendingFac:   incoming.ReceivingFac,
		ReceivingApp: incoming.SendingApp,
		ReceivingFac: incoming.SendingFac,
	}

	msh := Segment{Name: "MSH"}
	for _, v := range []string{
		"|", `^~\&`,
		ack.SendingApp, ack.SendingFac, ack.ReceivingApp, ack.ReceivingFac,
		timestamp, "", "ACK^" + trigger, controlID, "P", ack.Version,
	} {
		msh.Fields = append(msh.Fields, parseField(v))
	}
	msa := Segment{Name: "MSA", Fields: []Field{parseField(ackCode), parseField(incoming.ControlID)}}

	ack.Segments = []Segment{msh, msa}
	return ack
}

// Serialize renders a Message back to wire form with \r separators.
func Serialize(msg *Message) []byte {
	segments := make([]string, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		segments = append(segments, serializeSegment(seg))
	}
	return []byte(strings.Join(segments, "\r"))
}

func serializeSegment(seg Segment) string {
	if seg.Name == "MSH" {
		// Fields[0] is the separator itself, so rendering starts at MSH-2.
		if len(seg.Fields) < 2 {
			return "MSH|"
		}
		parts := make([]string, 0, len(seg.Fields)-1)
		for i := 1; i < len(seg.Fields); i++ {
			parts = append(parts, seg.Fields[i].Value)
		}
		return "MSH|" + strings.Join(parts, "|")
	}

	parts := make([]string, len(seg.Fields))
	for i, f := range seg.Fields {
		parts[i] = f.Value
	}
	return seg.Name + "|" + strings.Join(parts, "|")
}
