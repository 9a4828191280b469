/* client.go: a sessionless IPMI 1.5 LAN requester
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package ipmi

import (
	"errors"
	"fmt"
	"net"
	"time"
)

/*
 * Request sequence:
 * RMCP/ASF Ping/Pong - to verify IPMI support
 * IPMI request/response pairs outside of any session (authtype NONE)
 */

// DefaultTimeout bounds a single request/response exchange
const DefaultTimeout = 10 * time.Second

// Client talks to a Server (or any BMC that accepts sessionless requests)
type Client struct {
	addr    *net.UDPAddr
	conn    *net.UDPConn
	rqseq   uint8
	Timeout time.Duration
}

// NewClient creates a client for addr; call Dial before use
func NewClient(addr *net.UDPAddr) *Client {
	return &Client{
		addr:    addr,
		Timeout: DefaultTimeout,
	}
}

// Dial opens the UDP socket and verifies the peer answers ASF pings with IPMI support
func (c *Client) Dial() (e error) {
	if c.conn, e = net.DialUDP("udp", nil, c.addr); e != nil {
		return e
	}
	if e = c.Ping(); e != nil {
		c.conn.Close()
		c.conn = nil
	}
	return
}

// Close releases the socket
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	e := c.conn.Close()
	c.conn = nil
	return e
}

// Ping sends an ASF presence ping. Blocking.
func (c *Client) Ping() error {
	body, e := packer.PackMust(&ASFMessageHeader{
		IANA: ASFIANA,
		Type: ASFTypePing,
	})
	if e != nil {
		return e
	}
	packet, e := packer.PackMust(&RMCPHeader{
		Version:        RMCPVersion1_0,
		SequenceNumber: RMCPSeqNoACK,
		Class:          RMCPClassASF,
		Data:           body,
	})
	if e != nil {
		return e
	}
	return c.exchange(packet, func(p []byte) (bool, error) {
		rmcp := &RMCPHeader{}
		if e := packer.UnpackMust(p, rmcp); e != nil || rmcp.Class != RMCPClassASF {
			return false, nil
		}
		asf := &ASFMessageHeader{}
		if e := packer.UnpackMust(rmcp.Data, asf); e != nil || asf.Type != ASFTypePong {
			return false, nil
		}
		pong := &ASFMessagePong{}
		if e := packer.UnpackMust(asf.Data, pong); e != nil {
			return false, e
		}
		if pong.Entities&ASFEntitiesIPMISupport == 0 {
			return false, fmt.Errorf("remote host does not support IPMI")
		}
		return true, nil
	})
}

// Send issues one request and waits for the matching response
func (c *Client) Send(netFn, cmd uint8, data []byte) (cc uint8, resp []byte, e error) {
	seq := c.rqseq << 2
	c.rqseq = (c.rqseq + 1) & 0x3f
	msg, e := packer.PackMust(&IPMIRequest{
		RqAddr: IPMIRqAddrRemote,
		RqSeq:  seq,
		Cmd:    cmd,
		Data:   data,
	})
	if e != nil {
		return
	}
	hdr, e := packer.PackMust(&IPMIMessageHeader{
		RsAddr:   IPMIRsAddrBMCResponder,
		NetFnLun: NetFnLun(netFn, 0),
		Data:     msg,
	})
	if e != nil {
		return
	}
	packet, e := wrapIPMI(hdr)
	if e != nil {
		return
	}
	e = c.exchange(packet, func(p []byte) (bool, error) {
		rmcp := &RMCPHeader{}
		if e := packer.UnpackMust(p, rmcp); e != nil || rmcp.Class != RMCPClassIPMI {
			return false, nil
		}
		h, e := unwrapIPMI(rmcp)
		if e != nil {
			return false, e
		}
		rnetFn, _ := SplitNetFnLun(h.NetFnLun)
		if rnetFn != netFn|1 {
			// stray response to something else
			return false, nil
		}
		r := &IPMIResponse{}
		if e := packer.UnpackMust(h.Data, r); e != nil {
			return false, e
		}
		if r.RqSeq != seq || r.Cmd != cmd {
			return false, nil
		}
		cc = r.CompCode
		resp = r.Data
		return true, nil
	})
	return
}

// exchange writes packet and reads until match accepts a reply or the timeout passes
func (c *Client) exchange(packet []byte, match func([]byte) (bool, error)) error {
	if c.conn == nil {
		return fmt.Errorf("ipmi client is not connected")
	}
	wrote, e := c.conn.Write(packet)
	if e != nil {
		return e
	}
	if wrote != len(packet) {
		return fmt.Errorf("failed to send whole packet")
	}
	if e = c.conn.SetReadDeadline(time.Now().Add(c.Timeout)); e != nil {
		return e
	}
	buff := make([]byte, 65515)
	for {
		n, e := c.conn.Read(buff)
		if e != nil {
			var ne net.Error
			if errors.As(e, &ne) && ne.Timeout() {
				return fmt.Errorf("ipmi request to %s timed out", c.addr)
			}
			return e
		}
		ok, e := match(buff[:n])
		if e != nil {
			return e
		}
		if ok {
			return nil
		}
	}
}
