/* server.go: a sessionless IPMI 1.5 LAN responder
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package ipmi

import (
	"context"
	"errors"
	"fmt"
	"net"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// A Handler answers one IPMI request. It must always return a completion code.
type Handler interface {
	ServeIPMI(netFn, cmd uint8, data []byte) (cc uint8, resp []byte)
}

// HandlerFunc adapts a function to a Handler
type HandlerFunc func(netFn, cmd uint8, data []byte) (uint8, []byte)

func (f HandlerFunc) ServeIPMI(netFn, cmd uint8, data []byte) (uint8, []byte) {
	return f(netFn, cmd, data)
}

// Server reads RMCP datagrams and answers ASF presence pings and
// authtype NONE IPMI requests. Datagrams are handled one at a time.
type Server struct {
	addr    string
	handler Handler
	log     logrus.FieldLogger
	conn    net.PacketConn
}

// NewServer creates a server for addr; call Listen then Serve
func NewServer(addr string, h Handler, log logrus.FieldLogger) *Server {
	return &Server{
		addr:    addr,
		handler: h,
		log:     log,
	}
}

// Listen binds the UDP socket
func (s *Server) Listen() (e error) {
	if s.conn, e = net.ListenPacket("udp", s.addr); e != nil {
		return fmt.Errorf("ipmi: listen on %s: %w", s.addr, e)
	}
	return
}

// LocalAddr is the bound address, valid after Listen
func (s *Server) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve processes datagrams until ctx is done
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		if e := s.Listen(); e != nil {
			return e
		}
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	s.log.WithField("addr", s.conn.LocalAddr().String()).Info("ipmi lan listener started")
	buf := make([]byte, 65515)
	for {
		n, from, e := s.conn.ReadFrom(buf)
		if e != nil {
			if ctx.Err() != nil || errors.Is(e, net.ErrClosed) {
				s.log.Info("ipmi lan listener stopped")
				return nil
			}
			s.log.WithError(e).Warning("ipmi lan read failed")
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		l := s.log.WithFields(logrus.Fields{
			"request": uuid.NewV4().String(),
			"peer":    from.String(),
		})
		reply, e := s.handle(packet, l)
		if e != nil {
			l.WithError(e).Debug("dropping datagram")
			continue
		}
		if reply == nil {
			continue
		}
		if _, e := s.conn.WriteTo(reply, from); e != nil {
			l.WithError(e).Warning("ipmi lan write failed")
		}
	}
}

// handle turns one inbound datagram into a reply; nil reply means no answer
func (s *Server) handle(packet []byte, l logrus.FieldLogger) ([]byte, error) {
	rmcp := &RMCPHeader{}
	if e := packer.UnpackMust(packet, rmcp); e != nil {
		return nil, e
	}
	if rmcp.Version != RMCPVersion1_0 {
		return nil, fmt.Errorf("unsupported rmcp version: %x", rmcp.Version)
	}
	switch rmcp.Class &^ RMCPClassACK {
	case RMCPClassASF:
		return s.handleASF(rmcp)
	case RMCPClassIPMI:
		return s.handleIPMI(rmcp, l)
	}
	return nil, fmt.Errorf("unsupported rmcp class: %x", rmcp.Class)
}

func (s *Server) handleASF(rmcp *RMCPHeader) ([]byte, error) {
	asf := &ASFMessageHeader{}
	if e := packer.UnpackMust(rmcp.Data, asf); e != nil {
		return nil, e
	}
	if asf.Type != ASFTypePing {
		return nil, fmt.Errorf("unsupported asf message type: %x", asf.Type)
	}
	pong, e := packer.PackMust(&ASFMessagePong{
		IANA:     ASFIANA,
		Entities: ASFEntitiesIPMISupport | ASFEntitiesVersion1_0,
	})
	if e != nil {
		return nil, e
	}
	body, e := packer.PackMust(&ASFMessageHeader{
		IANA: ASFIANA,
		Type: ASFTypePong,
		Tag:  asf.Tag,
		Data: pong,
	})
	if e != nil {
		return nil, e
	}
	return packer.PackMust(&RMCPHeader{
		Version:        RMCPVersion1_0,
		SequenceNumber: rmcp.SequenceNumber,
		Class:          RMCPClassASF,
		Data:           body,
	})
}

func (s *Server) handleIPMI(rmcp *RMCPHeader, l logrus.FieldLogger) ([]byte, error) {
	hdr, e := unwrapIPMI(rmcp)
	if e != nil {
		return nil, e
	}
	netFn, lun := SplitNetFnLun(hdr.NetFnLun)
	if IsResponse(netFn) {
		return nil, fmt.Errorf("got an unexpected ipmi response, not request: netfn %x", netFn)
	}
	req := &IPMIRequest{}
	if e := packer.UnpackMust(hdr.Data, req); e != nil {
		return nil, e
	}

	l = l.WithFields(logrus.Fields{
		"netfn": fmt.Sprintf("0x%02x", netFn),
		"cmd":   fmt.Sprintf("0x%02x", req.Cmd),
	})
	l.Debug("handling ipmi request")
	cc, data := s.handler.ServeIPMI(netFn, req.Cmd, req.Data)
	if cc != IPMICmpNorm {
		l.WithField("cc", fmt.Sprintf("0x%02x", cc)).Debug(CmpString(cc))
	}

	msg, e := packer.PackMust(&IPMIResponse{
		RqAddr:   hdr.RsAddr,
		RqSeq:    req.RqSeq,
		Cmd:      req.Cmd,
		CompCode: cc,
		Data:     data,
	})
	if e != nil {
		return nil, e
	}
	out, e := packer.PackMust(&IPMIMessageHeader{
		RsAddr:   req.RqAddr,
		NetFnLun: NetFnLun(netFn|1, lun),
		Data:     msg,
	})
	if e != nil {
		return nil, e
	}
	return wrapIPMI(out)
}
