package hyperliquid

// Wire types for the venue's REST and websocket surfaces. Field names match
// the venue's JSON exactly; numeric fields the venue sends as strings stay
// strings here and are parsed at the call site.

type l2Subscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	NSigFigs *int   `json:"nSigFigs,omitempty"`
}

type wsSubscribeMsg struct {
	Method       string          `json:"method"`
	Subscription l2Subscription  `json:"subscription"`
}

type wsEnvelope struct {
	Channel string `json:"channel"`
	Data    struct {
		Coin   string       `json:"coin"`
		Time   int64        `json:"time"`
		Levels [2][]l2Level `json:"levels"`
	} `json:"data"`
}

type l2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// orderTypeWire selects ALO vs IOC in the venue's order type envelope.
type orderTypeWire struct {
	Limit *limitOrderType `json:"limit,omitempty"`
}

type limitOrderType struct {
	Tif string `json:"tif"` // "Alo" | "Ioc" | "Gtc"
}

type orderWire struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	LimitPx    string        `json:"p"`
	Size       string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	OrderType  orderTypeWire `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []orderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type cancelWire struct {
	Asset   int    `json:"a"`
	OrderID string `json:"o"`
}

type cancelAction struct {
	Type    string       `json:"type"`
	Cancels []cancelWire `json:"cancels"`
}

type scheduleCancelAction struct {
	Type string `json:"type"`
	Time *int64 `json:"time,omitempty"`
}

type updateLeverageAction struct {
	Type     string `json:"type"`
	Asset    int    `json:"asset"`
	IsCross  bool   `json:"isCross"`
	Leverage int    `json:"leverage"`
}

// signedRequest is the envelope every /exchange POST carries: the raw
// action, its signature, a millisecond nonce, and an optional vault.
type signedRequest struct {
	Action       any          `json:"action"`
	Nonce        int64        `json:"nonce"`
	Signature    signatureWire `json:"signature"`
	VaultAddress *string      `json:"vaultAddress,omitempty"`
}

type signatureWire struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatusWire `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type orderStatusWire struct {
	Resting *struct {
		OID int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		OID      int64  `json:"oid"`
		TotalSz  string `json:"totalSz"`
		AvgPx    string `json:"avgPx"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type orderStatusRequest struct {
	Type string `json:"type"`
	User string `json:"user"`
	OID  int64  `json:"oid"`
}

// orderStatusResponse is the venue's answer to an orderStatus info query.
// A maker (Alo) fill always executes at the resting limit price, so
// LimitPx doubles as the fill's average price once Status is "filled".
type orderStatusResponse struct {
	Status string `json:"status"`
	Order  *struct {
		Order struct {
			OrigSz  string `json:"origSz"`
			LimitPx string `json:"limitPx"`
		} `json:"order"`
		Status string `json:"status"` // "open" | "filled" | "canceled" | "rejected"
	} `json:"order,omitempty"`
}

type clearinghouseStateResponse struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
}

type spotClearinghouseStateResponse struct {
	Balances []struct {
		Coin  string `json:"coin"`
		Total string `json:"total"`
	} `json:"balances"`
}
