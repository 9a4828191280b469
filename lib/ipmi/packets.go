/* packets.go: RMCP/ASF/IPMI 1.5 LAN packet layouts
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package ipmi

import "encoding/binary"

// RMCP/ASF/IPMI headers are big endian on the wire except the IPMI session
// header sequence and id, which IPMI defines as little endian.
var packer = Packer{ByteOrder: binary.BigEndian}
var lePacker = Packer{ByteOrder: binary.LittleEndian}

type RMCPHeader struct {
	Version        uint8  `pack:""`
	reserved       uint8  `pack:"zeros"`
	SequenceNumber uint8  `pack:""`
	Class          uint8  `pack:""`
	Data           []byte `pack:"fill=0"`
}

type ASFMessageHeader struct {
	IANA     uint32 `pack:""`
	Type     uint8  `pack:""`
	Tag      uint8  `pack:""`
	reserved uint8  `pack:"zeros"`
	DataLen  uint8  `pack:"len=Data"`
	Data     []byte `pack:"lenfrom=DataLen"`
}

type ASFMessagePong struct {
	IANA         uint32  `pack:""`
	OEM          uint32  `pack:""`
	Entities     uint8   `pack:""`
	Interactions uint8   `pack:""`
	reserved     [6]byte `pack:"zeros"`
}

type IPMISessionHeader struct {
	AuthType              uint8  `pack:""`
	SessionSequenceNumber uint32 `pack:""`
	SessionID             uint32 `pack:""`
	MsgAuthCode           []byte `pack:"authcodelen=AuthType"`
	PayloadLength         uint8  `pack:"len=Payload"`
	Payload               []byte `pack:"lenfrom=PayloadLength"`
}

type IPMIMessageHeader struct {
	RsAddr   uint8  `pack:""`
	NetFnLun uint8  `pack:""`
	Checksum uint8  `pack:"cksum2"`
	Data     []byte `pack:"fill=0"`
}

type IPMIRequest struct {
	RqAddr   uint8  `pack:""`
	RqSeq    uint8  `pack:""`
	Cmd      uint8  `pack:""`
	Data     []byte `pack:"fill=-1"`
	Checksum uint8  `pack:"cksum2"`
}

type IPMIResponse struct {
	RqAddr   uint8  `pack:""`
	RqSeq    uint8  `pack:""`
	Cmd      uint8  `pack:""`
	CompCode uint8  `pack:""`
	Data     []byte `pack:"fill=-1"`
	Checksum uint8  `pack:"cksum2"`
}

// wrapIPMI builds the RMCP + sessionless IPMI 1.5 envelope around an already packed message
func wrapIPMI(msg []byte) ([]byte, error) {
	sess, err := lePacker.PackMust(&IPMISessionHeader{
		AuthType: IPMIAuthTypeNONE,
		Payload:  msg,
	})
	if err != nil {
		return nil, err
	}
	return packer.PackMust(&RMCPHeader{
		Version:        RMCPVersion1_0,
		SequenceNumber: RMCPSeqNoACK,
		Class:          RMCPClassIPMI,
		Data:           sess,
	})
}

// unwrapIPMI strips the RMCP and session envelope, returning the message header.
// Only authtype NONE sessions are accepted.
func unwrapIPMI(rmcp *RMCPHeader) (*IPMIMessageHeader, error) {
	sess := &IPMISessionHeader{}
	if err := lePacker.UnpackMust(rmcp.Data, sess); err != nil {
		return nil, err
	}
	if sess.AuthType != IPMIAuthTypeNONE {
		return nil, errAuthUnsupported(sess.AuthType)
	}
	hdr := &IPMIMessageHeader{}
	if err := packer.UnpackMust(sess.Payload, hdr); err != nil {
		return nil, err
	}
	return hdr, nil
}

type errAuthUnsupported uint8

func (e errAuthUnsupported) Error() string {
	return "unsupported session auth type: " + authTypeName(uint8(e))
}

func authTypeName(a uint8) string {
	switch a {
	case IPMIAuthTypeNONE:
		return "none"
	case IPMIAuthTypeMD2:
		return "md2"
	case IPMIAuthTypeMD5:
		return "md5"
	case IPMIAuthTypePasswd:
		return "password"
	case IPMIAuthTypeOEM:
		return "oem"
	}
	return "unknown"
}
