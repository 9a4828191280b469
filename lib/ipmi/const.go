/* const.go: RMCP, ASF and IPMI wire constants
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package ipmi

// RMCP constants
const (
	RMCPVersion1_0 uint8 = 0x06

	// Class bitmasks
	RMCPClassNormal uint8 = 0x00
	RMCPClassACK    uint8 = 0x80
	RMCPClassASF    uint8 = 0x06
	RMCPClassIPMI   uint8 = 0x07
	RMCPClassOEM    uint8 = 0x08

	RMCPSeqNoACK uint8 = 0xff
)

// ASF constants
const (
	ASFIANA              uint32 = 0x11be
	ASFTypePing          uint8  = 0x80
	ASFTypePong          uint8  = 0x40
	ASFTagUnidirectional uint8  = 0xff

	// bitmask
	ASFEntitiesIPMISupport uint8 = 0x80
	ASFEntitiesVersion1_0  uint8 = 0x01
)

// IPMI NetFn codes
// responses are always the request NetFn | 1
const (
	IPMIFnChassisReq  uint8 = 0x00
	IPMIFnChassisRes  uint8 = 0x01
	IPMIFnBridgeReq   uint8 = 0x02
	IPMIFnSensorReq   uint8 = 0x04
	IPMIFnAppReq      uint8 = 0x06
	IPMIFnAppRes      uint8 = 0x07
	IPMIFnStorageReq  uint8 = 0x0a
	IPMIFnTransferReq uint8 = 0x0c
	IPMIFnOEMReq      uint8 = 0x2e
)

// Completion codes
const (
	IPMICmpNorm             uint8 = 0x00
	IPMICmpParmNotSupported uint8 = 0x80
	IPMICmpBusy             uint8 = 0xc0
	IPMICmpInvalid          uint8 = 0xc1
	IPMICmpReqLenInvalid    uint8 = 0xc7
	IPMICmpUnspecified      uint8 = 0xff
)

var IPMICmpString = map[uint8]string{
	IPMICmpNorm:             "Command completed normally.",
	IPMICmpParmNotSupported: "Parameter not supported.",
	IPMICmpBusy:             "Node Busy.",
	IPMICmpInvalid:          "Invalid Command.",
	IPMICmpReqLenInvalid:    "Request data length invalid.",
	IPMICmpUnspecified:      "Unspecified error.",
}

// Chassis NetFn commands
const (
	IPMICmdChassisCap        uint8 = 0x00
	IPMICmdChassisStatus     uint8 = 0x01
	IPMICmdChassisCtl        uint8 = 0x02
	IPMICmdSetSysBootOptions uint8 = 0x08
	IPMICmdGetSysBootOptions uint8 = 0x09
	IPMICmdWildcard          uint8 = 0xff

	// Chassis Control data byte
	IPMIChassisCtlDown         uint8 = 0x00
	IPMIChassisCtlUp           uint8 = 0x01
	IPMIChassisCtlCycle        uint8 = 0x02
	IPMIChassisCtlHardReset    uint8 = 0x03
	IPMIChassisCtlPulseDiag    uint8 = 0x04
	IPMIChassisCtlSoftShutdown uint8 = 0x05

	IPMIRsAddrBMCResponder uint8 = 0x20
	IPMIRqAddrRemote       uint8 = 0x81
)

// Auth types; we only ever speak NONE
const (
	IPMIAuthTypeNONE   uint8 = 0x00
	IPMIAuthTypeMD2    uint8 = 0x01
	IPMIAuthTypeMD5    uint8 = 0x02
	IPMIAuthTypePasswd uint8 = 0x04
	IPMIAuthTypeOEM    uint8 = 0x05
)

// NetFnLun packs a NetFn and LUN into a single header byte
func NetFnLun(netFn, lun uint8) uint8 {
	return (netFn << 2) | (lun & 0x03)
}

// SplitNetFnLun is the inverse of NetFnLun
func SplitNetFnLun(b uint8) (netFn, lun uint8) {
	return b >> 2, b & 0x03
}

// IsResponse reports whether a NetFn is in the response (odd) half of the space
func IsResponse(netFn uint8) bool {
	return netFn%2 == 1
}

// CmpString names a completion code
func CmpString(cc uint8) string {
	if s, ok := IPMICmpString[cc]; ok {
		return s
	}
	return "Unknown completion code."
}
