package fix

// Tag is a FIX field identifier.
type Tag int

// Field tags used by the cTrader FIX 4.4 dialect.
const (
	TagAvgPx                Tag = 6
	TagBeginSeqNo           Tag = 7
	TagBeginString          Tag = 8
	TagBodyLength           Tag = 9
	TagCheckSum             Tag = 10
	TagClOrdID              Tag = 11
	TagCumQty               Tag = 14
	TagEndSeqNo             Tag = 16
	TagMsgSeqNum            Tag = 34
	TagMsgType              Tag = 35
	TagNewSeqNo             Tag = 36
	TagOrderID              Tag = 37
	TagOrderQty             Tag = 38
	TagOrdStatus            Tag = 39
	TagOrdType              Tag = 40
	TagOrigClOrdID          Tag = 41
	TagPrice                Tag = 44
	TagRefSeqNum            Tag = 45
	TagSenderCompID         Tag = 49
	TagSenderSubID          Tag = 50
	TagSendingTime          Tag = 52
	TagSide                 Tag = 54
	TagSymbol               Tag = 55
	TagTargetCompID         Tag = 56
	TagTargetSubID          Tag = 57
	TagText                 Tag = 58
	TagTimeInForce          Tag = 59
	TagTransactTime         Tag = 60
	TagEncryptMethod        Tag = 98
	TagStopPx               Tag = 99
	TagOrdRejReason         Tag = 103
	TagHeartBtInt           Tag = 108
	TagTestReqID            Tag = 112
	TagGapFillFlag          Tag = 123
	TagExpireTime           Tag = 126
	TagResetSeqNumFlag      Tag = 141
	TagNoRelatedSym         Tag = 146
	TagExecType             Tag = 150
	TagLeavesQty            Tag = 151
	TagMDReqID              Tag = 262
	TagSubscriptionReqType  Tag = 263
	TagMarketDepth          Tag = 264
	TagMDUpdateType         Tag = 265
	TagNoMDEntryTypes       Tag = 267
	TagNoMDEntries          Tag = 268
	TagMDEntryType          Tag = 269
	TagMDEntryPx            Tag = 270
	TagMDEntrySize          Tag = 271
	TagMDEntryID            Tag = 278
	TagMDUpdateAction       Tag = 279
	TagSecurityReqID        Tag = 320
	TagSecurityResponseID   Tag = 322
	TagRefTagID             Tag = 371
	TagRefMsgType           Tag = 372
	TagSessionRejectReason  Tag = 373
	TagBusinessRejectRefID  Tag = 379
	TagBusinessRejectReason Tag = 380
	TagCxlRejResponseTo     Tag = 434
	TagDesignation          Tag = 494
	TagUsername             Tag = 553
	TagPassword             Tag = 554
	TagSecurityListReqType  Tag = 559
	TagSecurityReqResult    Tag = 560
	TagMassStatusReqID      Tag = 584
	TagMassStatusReqType    Tag = 585
	TagNoPositions          Tag = 702
	TagLongQty              Tag = 704
	TagShortQty             Tag = 705
	TagPosReqID             Tag = 710
	TagPosMaintRptID        Tag = 721
	TagTotalNumPosReports   Tag = 727
	TagPosReqResult         Tag = 728
	TagSettlPrice           Tag = 730
	TagTotNumReports        Tag = 911
	TagSymbolName           Tag = 1007
	TagSymbolDigits         Tag = 1008
)

// Message types exchanged with the venue.
const (
	MsgTypeHeartbeat             = "0"
	MsgTypeTestRequest           = "1"
	MsgTypeResendRequest         = "2"
	MsgTypeReject                = "3"
	MsgTypeSequenceReset         = "4"
	MsgTypeLogout                = "5"
	MsgTypeExecutionReport       = "8"
	MsgTypeOrderCancelReject     = "9"
	MsgTypeLogon                 = "A"
	MsgTypeNewOrderSingle        = "D"
	MsgTypeOrderCancelRequest    = "F"
	MsgTypeMarketDataRequest     = "V"
	MsgTypeMarketDataSnapshot    = "W"
	MsgTypeMarketDataIncrRefresh = "X"
	MsgTypeSecurityListRequest   = "x"
	MsgTypeSecurityList          = "y"
	MsgTypeBusinessReject        = "j"
	MsgTypeOrderMassStatusReq    = "AF"
	MsgTypeRequestForPositions   = "AN"
	MsgTypePositionReport        = "AP"
)

// SubID distinguishes the two venue streams. It travels in SenderSubID
// and TargetSubID.
type SubID string

const (
	SubIDQuote SubID = "QUOTE"
	SubIDTrade SubID = "TRADE"
)

// Side is the FIX order side.
type Side int

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// OrderType is the FIX order type.
type OrderType int

const (
	OrderTypeMarket OrderType = 1
	OrderTypeLimit  OrderType = 2
	OrderTypeStop   OrderType = 3
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStop:
		return "stop"
	}
	return "unknown"
}

// ExecType values reported on execution reports.
const (
	ExecTypeNew         = "0"
	ExecTypeCanceled    = "4"
	ExecTypeReplaced    = "5"
	ExecTypeRejected    = "8"
	ExecTypeExpired     = "C"
	ExecTypeTrade       = "F"
	ExecTypeOrderStatus = "I"
)

// OrdStatus values carried alongside ExecType.
const (
	OrdStatusNew             = "0"
	OrdStatusPartiallyFilled = "1"
	OrdStatusFilled          = "2"
	OrdStatusCanceled        = "4"
	OrdStatusRejected        = "8"
)

// MDEntryType values for market data entries.
const (
	MDEntryTypeBid = "0"
	MDEntryTypeAsk = "1"
)

// MDUpdateAction values on incremental refreshes.
const (
	MDUpdateActionNew    = "0"
	MDUpdateActionDelete = "2"
)
