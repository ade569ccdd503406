package codec

// ReasonCode is an MQTT 5.0 reason code. For MQTT 3.1.1, the same numeric
// space is reused to carry the much smaller set of legacy CONNACK return
// codes and SUBACK granted-QoS/failure codes so the rest of the broker
// never has to branch on protocol level to interpret an outcome.
type ReasonCode byte

const (
	ReasonSuccess                           ReasonCode = 0x00
	ReasonNormalDisconnection                ReasonCode = 0x00
	ReasonGrantedQoS0                        ReasonCode = 0x00
	ReasonGrantedQoS1                        ReasonCode = 0x01
	ReasonGrantedQoS2                        ReasonCode = 0x02
	ReasonDisconnectWithWillMessage          ReasonCode = 0x04
	ReasonNoMatchingSubscribers              ReasonCode = 0x10
	ReasonNoSubscriptionExisted              ReasonCode = 0x11
	ReasonContinueAuthentication             ReasonCode = 0x18
	ReasonReAuthenticate                     ReasonCode = 0x19
	ReasonUnspecifiedError                   ReasonCode = 0x80
	ReasonMalformedPacket                    ReasonCode = 0x81
	ReasonProtocolError                      ReasonCode = 0x82
	ReasonImplementationSpecificError        ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion         ReasonCode = 0x84
	ReasonClientIdentifierNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword              ReasonCode = 0x86
	ReasonNotAuthorized                      ReasonCode = 0x87
	ReasonServerUnavailable                  ReasonCode = 0x88
	ReasonServerBusy                         ReasonCode = 0x89
	ReasonBanned                             ReasonCode = 0x8A
	ReasonServerShuttingDown                 ReasonCode = 0x8B
	ReasonBadAuthenticationMethod            ReasonCode = 0x8C
	ReasonKeepAliveTimeout                   ReasonCode = 0x8D
	ReasonSessionTakenOver                   ReasonCode = 0x8E
	ReasonTopicFilterInvalid                 ReasonCode = 0x8F
	ReasonTopicNameInvalid                   ReasonCode = 0x90
	ReasonPacketIdentifierInUse              ReasonCode = 0x91
	ReasonPacketIdentifierNotFound           ReasonCode = 0x92
	ReasonReceiveMaximumExceeded             ReasonCode = 0x93
	ReasonTopicAliasInvalid                  ReasonCode = 0x94
	ReasonPacketTooLarge                     ReasonCode = 0x95
	ReasonMessageRateTooHigh                 ReasonCode = 0x96
	ReasonQuotaExceeded                      ReasonCode = 0x97
	ReasonAdministrativeAction               ReasonCode = 0x98
	ReasonPayloadFormatInvalid               ReasonCode = 0x99
	ReasonRetainNotSupported                 ReasonCode = 0x9A
	ReasonQoSNotSupported                    ReasonCode = 0x9B
	ReasonUseAnotherServer                   ReasonCode = 0x9C
	ReasonServerMoved                        ReasonCode = 0x9D
	ReasonSharedSubscriptionsNotSupported    ReasonCode = 0x9E
	ReasonConnectionRateExceeded             ReasonCode = 0x9F
	ReasonMaximumConnectTime                 ReasonCode = 0xA0
	ReasonSubscriptionIdentifiersNotSupported ReasonCode = 0xA1
	ReasonWildcardSubscriptionsNotSupported  ReasonCode = 0xA2
)

// reasonCodeWhitelist restricts which reason codes a packet kind may carry,
// per the MQTT 5.0 reason code tables scattered across sections 3.2-3.14.
var reasonCodeWhitelist = map[PacketType]map[ReasonCode]bool{
	CONNACK: rset(ReasonSuccess, ReasonUnspecifiedError, ReasonMalformedPacket, ReasonProtocolError,
		ReasonImplementationSpecificError, ReasonUnsupportedProtocolVersion, ReasonClientIdentifierNotValid,
		ReasonBadUserNameOrPassword, ReasonNotAuthorized, ReasonServerUnavailable, ReasonServerBusy,
		ReasonBanned, ReasonBadAuthenticationMethod, ReasonTopicNameInvalid, ReasonPacketTooLarge,
		ReasonQuotaExceeded, ReasonPayloadFormatInvalid, ReasonRetainNotSupported, ReasonQoSNotSupported,
		ReasonUseAnotherServer, ReasonServerMoved, ReasonConnectionRateExceeded),
	PUBACK: rset(ReasonSuccess, ReasonNoMatchingSubscribers, ReasonUnspecifiedError,
		ReasonImplementationSpecificError, ReasonNotAuthorized, ReasonTopicNameInvalid,
		ReasonPacketIdentifierInUse, ReasonQuotaExceeded, ReasonPayloadFormatInvalid),
	PUBREC: rset(ReasonSuccess, ReasonNoMatchingSubscribers, ReasonUnspecifiedError,
		ReasonImplementationSpecificError, ReasonNotAuthorized, ReasonTopicNameInvalid,
		ReasonPacketIdentifierInUse, ReasonQuotaExceeded, ReasonPayloadFormatInvalid),
	PUBREL:  rset(ReasonSuccess, ReasonPacketIdentifierNotFound),
	PUBCOMP: rset(ReasonSuccess, ReasonPacketIdentifierNotFound),
	SUBACK: rset(ReasonGrantedQoS0, ReasonGrantedQoS1, ReasonGrantedQoS2, ReasonUnspecifiedError,
		ReasonImplementationSpecificError, ReasonNotAuthorized, ReasonTopicFilterInvalid,
		ReasonPacketIdentifierInUse, ReasonQuotaExceeded, ReasonSharedSubscriptionsNotSupported,
		ReasonSubscriptionIdentifiersNotSupported, ReasonWildcardSubscriptionsNotSupported),
	UNSUBACK: rset(ReasonSuccess, ReasonNoSubscriptionExisted, ReasonUnspecifiedError,
		ReasonImplementationSpecificError, ReasonNotAuthorized, ReasonTopicFilterInvalid,
		ReasonPacketIdentifierInUse),
	DISCONNECT: rset(ReasonNormalDisconnection, ReasonDisconnectWithWillMessage, ReasonUnspecifiedError,
		ReasonMalformedPacket, ReasonProtocolError, ReasonImplementationSpecificError, ReasonNotAuthorized,
		ReasonServerBusy, ReasonServerShuttingDown, ReasonBadAuthenticationMethod, ReasonKeepAliveTimeout,
		ReasonSessionTakenOver, ReasonTopicFilterInvalid, ReasonTopicNameInvalid, ReasonReceiveMaximumExceeded,
		ReasonTopicAliasInvalid, ReasonPacketTooLarge, ReasonMessageRateTooHigh, ReasonQuotaExceeded,
		ReasonAdministrativeAction, ReasonPayloadFormatInvalid, ReasonRetainNotSupported, ReasonQoSNotSupported,
		ReasonUseAnotherServer, ReasonServerMoved, ReasonSharedSubscriptionsNotSupported,
		ReasonConnectionRateExceeded, ReasonMaximumConnectTime, ReasonSubscriptionIdentifiersNotSupported,
		ReasonWildcardSubscriptionsNotSupported),
	AUTH: rset(ReasonSuccess, ReasonContinueAuthentication, ReasonReAuthenticate),
}

func rset(codes ...ReasonCode) map[ReasonCode]bool {
	m := make(map[ReasonCode]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

// ValidateReasonCode rejects a reason code the MQTT 5.0 spec does not
// permit for this packet kind.
func ValidateReasonCode(t PacketType, rc ReasonCode) error {
	allowed, ok := reasonCodeWhitelist[t]
	if !ok {
		return nil
	}
	if !allowed[rc] {
		return ErrInvalidReasonCode
	}
	return nil
}

// MQTT 3.1.1 CONNACK return codes. They occupy the low end of the same
// numeric space as v5 reason codes, so ReasonCode is reused directly.
const (
	ReturnCodeAccepted                    ReasonCode = 0x00
	ReturnCodeUnacceptableProtocolVersion ReasonCode = 0x01
	ReturnCodeIdentifierRejected          ReasonCode = 0x02
	ReturnCodeServerUnavailable           ReasonCode = 0x03
	ReturnCodeBadUsernameOrPassword       ReasonCode = 0x04
	ReturnCodeNotAuthorized               ReasonCode = 0x05
)

// downgradeConnackCode maps a v5 CONNACK reason code onto its nearest
// v3.1.1 return code for sessions speaking the older dialect.
func downgradeConnackCode(rc ReasonCode) ReasonCode {
	switch rc {
	case ReasonSuccess:
		return ReturnCodeAccepted
	case ReasonUnsupportedProtocolVersion:
		return ReturnCodeUnacceptableProtocolVersion
	case ReasonClientIdentifierNotValid:
		return ReturnCodeIdentifierRejected
	case ReasonServerUnavailable:
		return ReturnCodeServerUnavailable
	case ReasonBadUserNameOrPassword:
		return ReturnCodeBadUsernameOrPassword
	case ReasonNotAuthorized, ReasonBanned:
		return ReturnCodeNotAuthorized
	default:
		return ReturnCodeServerUnavailable
	}
}

// downgradeSubackCode maps a v5 SUBACK reason code onto the v3.1.1
// granted-QoS-or-0x80-failure convention.
func downgradeSubackCode(rc ReasonCode) ReasonCode {
	switch rc {
	case ReasonGrantedQoS0, ReasonGrantedQoS1, ReasonGrantedQoS2:
		return rc
	default:
		return ReasonUnspecifiedError
	}
}
